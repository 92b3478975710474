package classifier

import (
	"testing"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
)

func TestMapDocumentPicksHighestConfidenceEntity(t *testing.T) {
	doc := &documentaipb.Document{
		Text: "Capital call notice",
		Pages: []*documentaipb.Document_Page{
			{
				PageNumber: 1,
				Dimension:  &documentaipb.Document_Page_Dimension{Width: 612, Height: 792},
			},
			{PageNumber: 2},
		},
		Entities: []*documentaipb.Document_Entity{
			{Type: "LEGAL", MentionText: "agreement", Confidence: 0.41},
			{Type: "CAPITAL_CALL", MentionText: "capital call", Confidence: 0.93},
			{Type: "TAX", MentionText: "tax", Confidence: 0.52},
		},
	}

	result := mapDocument(doc)

	if result.PredictedType != "CAPITAL_CALL" {
		t.Errorf("PredictedType = %q, want CAPITAL_CALL", result.PredictedType)
	}
	if result.Confidence != float32(0.93) {
		t.Errorf("Confidence = %v, want 0.93", result.Confidence)
	}
	if result.Text != "Capital call notice" {
		t.Errorf("Text = %q", result.Text)
	}
	if len(result.Entities) != 3 {
		t.Errorf("len(Entities) = %d, want 3", len(result.Entities))
	}

	if len(result.Pages) != 2 {
		t.Fatalf("len(Pages) = %d, want 2", len(result.Pages))
	}
	if result.Pages[0].PageNumber != 1 || result.Pages[0].Width != 612 || result.Pages[0].Height != 792 {
		t.Errorf("page 1 = %+v", result.Pages[0])
	}
	if result.Pages[1].Width != 0 {
		t.Errorf("page 2 width = %v, want 0 for missing dimension", result.Pages[1].Width)
	}
}

func TestMapDocumentTieKeepsFirstEntity(t *testing.T) {
	doc := &documentaipb.Document{
		Entities: []*documentaipb.Document_Entity{
			{Type: "CAPITAL_CALL", Confidence: 0.5},
			{Type: "TAX", Confidence: 0.5},
		},
	}

	result := mapDocument(doc)

	if result.PredictedType != "CAPITAL_CALL" {
		t.Errorf("PredictedType = %q, want first entity on tie", result.PredictedType)
	}
}

func TestMapDocumentEmpty(t *testing.T) {
	result := mapDocument(&documentaipb.Document{})

	if result.PredictedType != "" || result.Confidence != 0 {
		t.Errorf("result = %+v, want empty prediction", result)
	}
	if len(result.Pages) != 0 || len(result.Entities) != 0 {
		t.Errorf("result = %+v, want no pages or entities", result)
	}
}

func TestResourceNames(t *testing.T) {
	c := &DocAI{projectID: "proj", location: "us"}

	wantProcessor := "projects/proj/locations/us/processors/proc-1"
	if got := c.processorName("proc-1"); got != wantProcessor {
		t.Errorf("processorName = %q, want %q", got, wantProcessor)
	}

	wantDataset := wantProcessor + "/dataset"
	if got := c.datasetName("proc-1"); got != wantDataset {
		t.Errorf("datasetName = %q, want %q", got, wantDataset)
	}
}
