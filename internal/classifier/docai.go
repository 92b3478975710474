package classifier

import (
	"context"
	"fmt"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	documentaibeta "cloud.google.com/go/documentai/apiv1beta3"
	betapb "cloud.google.com/go/documentai/apiv1beta3/documentaipb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/feichai0017/document-trainer/internal/models"
	"github.com/feichai0017/document-trainer/pkg/logger"
)

// responseFields limits process responses to what the pipeline consumes.
var responseFields = []string{"text", "pages", "entities"}

// DocAI is the Document AI backed Classifier. Dataset imports go through the
// v1beta3 document service; everything else uses v1.
type DocAI struct {
	processors *documentai.DocumentProcessorClient
	dataset    *documentaibeta.DocumentClient
	projectID  string
	location   string
	logger     logger.Logger
}

func NewDocAI(ctx context.Context, projectID, location string, log logger.Logger, opts ...option.ClientOption) (*DocAI, error) {
	// Regional processors only answer on their regional endpoint.
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	clientOpts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, opts...)

	processors, err := documentai.NewDocumentProcessorClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create document processor client: %w", err)
	}

	dataset, err := documentaibeta.NewDocumentClient(ctx, clientOpts...)
	if err != nil {
		_ = processors.Close()
		return nil, fmt.Errorf("failed to create document service client: %w", err)
	}

	return &DocAI{
		processors: processors,
		dataset:    dataset,
		projectID:  projectID,
		location:   location,
		logger:     log,
	}, nil
}

func (c *DocAI) ProcessURI(ctx context.Context, processorID, sourceURI string) (*models.ClassificationResult, error) {
	req := &documentaipb.ProcessRequest{
		Name: c.processorName(processorID),
		Source: &documentaipb.ProcessRequest_GcsDocument{
			GcsDocument: &documentaipb.GcsDocument{
				GcsUri:   sourceURI,
				MimeType: "application/pdf",
			},
		},
		SkipHumanReview: true,
		FieldMask:       &fieldmaskpb.FieldMask{Paths: responseFields},
	}
	return c.process(ctx, req)
}

func (c *DocAI) ProcessBytes(ctx context.Context, processorID string, content []byte) (*models.ClassificationResult, error) {
	req := &documentaipb.ProcessRequest{
		Name: c.processorName(processorID),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: "application/pdf",
			},
		},
		SkipHumanReview: true,
		FieldMask:       &fieldmaskpb.FieldMask{Paths: responseFields},
	}
	return c.process(ctx, req)
}

func (c *DocAI) process(ctx context.Context, req *documentaipb.ProcessRequest) (*models.ClassificationResult, error) {
	resp, err := c.processors.ProcessDocument(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to process document: %w", err)
	}
	if resp.GetDocument() == nil {
		return nil, fmt.Errorf("process response carried no document")
	}

	result := mapDocument(resp.GetDocument())
	c.logger.Debug("Processed document",
		logger.String("processor", req.GetName()),
		logger.String("predictedType", result.PredictedType),
		logger.Float32("confidence", result.Confidence),
		logger.Int("entities", len(result.Entities)),
	)
	return result, nil
}

func (c *DocAI) HasDeployedVersion(ctx context.Context, processorID string) (bool, error) {
	it := c.processors.ListProcessorVersions(ctx, &documentaipb.ListProcessorVersionsRequest{
		Parent: c.processorName(processorID),
	})

	for {
		version, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return false, fmt.Errorf("failed to list processor versions: %w", err)
		}
		if version.GetState() == documentaipb.ProcessorVersion_DEPLOYED {
			return true, nil
		}
	}
	return false, nil
}

func (c *DocAI) ImportDocuments(ctx context.Context, processorID, gcsPrefix string, trainingSplitRatio float32) (string, error) {
	req := &betapb.ImportDocumentsRequest{
		Dataset: c.datasetName(processorID),
		BatchDocumentsImportConfigs: []*betapb.ImportDocumentsRequest_BatchDocumentsImportConfig{
			{
				BatchInputConfig: &betapb.BatchDocumentsInputConfig{
					Source: &betapb.BatchDocumentsInputConfig_GcsPrefix{
						GcsPrefix: &betapb.GcsPrefix{GcsUriPrefix: gcsPrefix},
					},
				},
				SplitTypeConfig: &betapb.ImportDocumentsRequest_BatchDocumentsImportConfig_AutoSplitConfig_{
					AutoSplitConfig: &betapb.ImportDocumentsRequest_BatchDocumentsImportConfig_AutoSplitConfig{
						TrainingSplitRatio: trainingSplitRatio,
					},
				},
			},
		},
	}

	op, err := c.dataset.ImportDocuments(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to start dataset import: %w", err)
	}

	c.logger.Info("Dataset import started",
		logger.String("processorId", processorID),
		logger.String("gcsPrefix", gcsPrefix),
		logger.String("operation", op.Name()),
	)
	return op.Name(), nil
}

func (c *DocAI) Close() error {
	perr := c.processors.Close()
	derr := c.dataset.Close()
	if perr != nil {
		return perr
	}
	return derr
}

func (c *DocAI) processorName(processorID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.projectID, c.location, processorID)
}

func (c *DocAI) datasetName(processorID string) string {
	return c.processorName(processorID) + "/dataset"
}

// mapDocument flattens a Document AI document into the pipeline's result
// shape. The predicted type is the highest-confidence entity; ties keep the
// first occurrence.
func mapDocument(doc *documentaipb.Document) *models.ClassificationResult {
	result := &models.ClassificationResult{Text: doc.GetText()}

	for _, page := range doc.GetPages() {
		result.Pages = append(result.Pages, models.PageInfo{
			PageNumber: int(page.GetPageNumber()),
			Width:      page.GetDimension().GetWidth(),
			Height:     page.GetDimension().GetHeight(),
		})
	}

	for _, entity := range doc.GetEntities() {
		info := models.EntityInfo{
			Type:        entity.GetType(),
			MentionText: entity.GetMentionText(),
			Confidence:  entity.GetConfidence(),
		}
		result.Entities = append(result.Entities, info)

		if result.PredictedType == "" || info.Confidence > result.Confidence {
			result.PredictedType = info.Type
			result.Confidence = info.Confidence
		}
	}

	return result
}
