package labeling

import (
	"path"
	"strings"

	"github.com/feichai0017/document-trainer/internal/models"
)

// Labeler derives a training label from a bucket object path. Precedence:
// folder segment under the root prefix, then the ordered keyword table
// against the filename, then models.LabelOther. It never returns an empty
// label.
type Labeler struct {
	rootPrefix string
	rules      []KeywordRule
}

// NewLabeler builds a labeler for the given root prefix. A nil rule slice
// falls back to the compiled-in table.
func NewLabeler(rootPrefix string, rules []KeywordRule) *Labeler {
	if rules == nil {
		rules = DefaultKeywordRules()
	}
	return &Labeler{rootPrefix: rootPrefix, rules: rules}
}

// DeriveLabel returns the training label for an object path.
func (l *Labeler) DeriveLabel(objectPath string) string {
	rel := strings.TrimPrefix(objectPath, l.rootPrefix)

	// First folder under the root prefix names the type.
	if parts := strings.Split(rel, "/"); len(parts) >= 2 && parts[0] != "" {
		return NormalizeLabel(parts[0])
	}

	// No folder, scan the filename. Rule order decides ties, so the table
	// must stay an ordered slice.
	name := strings.ToLower(path.Base(rel))
	for _, rule := range l.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(name, kw) {
				return rule.Label
			}
		}
	}

	return models.LabelOther
}

// NormalizeLabel uppercases a raw label and replaces spaces with
// underscores. Shared with prediction-based relabeling so model output and
// folder names land in the same label space.
func NormalizeLabel(raw string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", "_"))
}
