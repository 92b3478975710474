package training

// Config carries the settings shared by the dataset builder and the trigger.
type Config struct {
	// OCRProcessorID is the processor used to extract text and layout when
	// building dataset artifacts.
	OCRProcessorID string
	// Location is the Document AI region, forwarded to the monitor workflow.
	Location string
	// Bucket holds the labeled dataset artifacts.
	Bucket string
	// ArtifactPrefix is the key prefix artifacts are written under, with a
	// trailing slash. The dataset import consumes everything below it.
	ArtifactPrefix string
	// TrainingSplitRatio is the training/test auto-split passed to the
	// dataset import.
	TrainingSplitRatio float32
	// BatchLimit caps how many documents one batch labels. Zero means no cap.
	BatchLimit int
}
