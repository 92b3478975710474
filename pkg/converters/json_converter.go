package converters

import (
	"fmt"
	"strconv"

	"github.com/feichai0017/document-trainer/internal/models"
)

// DocumentConverter 定义文档转换器接口
type DocumentConverter interface {
	Convert(result *models.ClassificationResult, label, sourceURI string) (*LabeledDocument, error)
}

// LabeledDocument is the dataset artifact the processor imports for training.
// Field names and casing follow the Document AI document JSON schema; note
// that text anchor indices are serialized as strings, not numbers.
type LabeledDocument struct {
	MimeType string          `json:"mimeType"`
	Text     string          `json:"text"`
	Pages    []LabeledPage   `json:"pages"`
	URI      string          `json:"uri"`
	Entities []LabeledEntity `json:"entities"`
}

// LabeledPage 定义页面结构
type LabeledPage struct {
	PageNumber int            `json:"pageNumber"`
	Dimension  *PageDimension `json:"dimension,omitempty"`
}

type PageDimension struct {
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// LabeledEntity carries the ground-truth classification label.
type LabeledEntity struct {
	Type        string     `json:"type"`
	MentionText string     `json:"mentionText"`
	Confidence  float64    `json:"confidence"`
	TextAnchor  TextAnchor `json:"textAnchor"`
}

type TextAnchor struct {
	TextSegments []TextSegment `json:"textSegments"`
}

type TextSegment struct {
	StartIndex string `json:"startIndex"`
	EndIndex   string `json:"endIndex"`
}

// JSONConverter 实现文档转换器
type JSONConverter struct{}

func NewJSONConverter() *JSONConverter {
	return &JSONConverter{}
}

// Convert builds the labeled artifact for one OCR result. The document gets
// exactly one entity: the human- or keyword-derived label at confidence 1.0,
// anchored to a text segment spanning the label itself.
func (c *JSONConverter) Convert(result *models.ClassificationResult, label, sourceURI string) (*LabeledDocument, error) {
	if result == nil {
		return nil, fmt.Errorf("no ocr result to convert")
	}
	if label == "" {
		return nil, fmt.Errorf("document label is empty")
	}

	doc := &LabeledDocument{
		MimeType: "application/pdf",
		Text:     result.Text,
		Pages:    make([]LabeledPage, 0, len(result.Pages)),
		URI:      sourceURI,
		Entities: []LabeledEntity{
			{
				Type:        label,
				MentionText: label,
				Confidence:  1.0,
				TextAnchor: TextAnchor{
					TextSegments: []TextSegment{
						{StartIndex: "0", EndIndex: strconv.Itoa(len(label))},
					},
				},
			},
		},
	}

	for _, p := range result.Pages {
		page := LabeledPage{PageNumber: p.PageNumber}
		if p.Width > 0 || p.Height > 0 {
			page.Dimension = &PageDimension{Width: p.Width, Height: p.Height}
		}
		doc.Pages = append(doc.Pages, page)
	}

	return doc, nil
}
