package labeling

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeywordRule maps filename keywords to one label. Rules are evaluated in
// slice order and the first match wins.
type KeywordRule struct {
	Label    string   `yaml:"label"`
	Keywords []string `yaml:"keywords"`
}

type keywordFile struct {
	Rules []KeywordRule `yaml:"rules"`
}

// DefaultKeywordRules is the fund-document taxonomy used when no table file
// is configured. Specific phrases come before generic ones.
func DefaultKeywordRules() []KeywordRule {
	return []KeywordRule{
		{Label: "CAPITAL_CALL", Keywords: []string{"capital call", "capital_call", "drawdown"}},
		{Label: "DISTRIBUTION_NOTICE", Keywords: []string{"distribution notice", "distribution_notice", "distribution"}},
		{Label: "FINANCIAL_STATEMENT", Keywords: []string{"financial statement", "financial_statement", "financials"}},
		{Label: "PCAP_STATEMENT", Keywords: []string{"pcap"}},
		{Label: "INVESTMENT_OVERVIEW", Keywords: []string{"investment overview", "investment_overview"}},
		{Label: "INVESTOR_STATEMENT", Keywords: []string{"investor statement", "investor_statement"}},
		{Label: "INVESTOR_PRESENTATION", Keywords: []string{"presentation", "deck"}},
		{Label: "INVESTOR_MEMOS", Keywords: []string{"memo"}},
		{Label: "MANAGEMENT_COMMENTARY", Keywords: []string{"commentary"}},
		{Label: "PORTFOLIO_SUMMARY", Keywords: []string{"portfolio summary", "portfolio_summary", "portfolio"}},
		{Label: "LEGAL", Keywords: []string{"legal", "agreement", "lpa"}},
		{Label: "TAX", Keywords: []string{"tax", "k-1", "k1"}},
	}
}

// LoadKeywordRules reads an ordered rule table from a YAML file. Labels are
// normalized and keywords lowercased so matching stays case-insensitive.
func LoadKeywordRules(path string) ([]KeywordRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyword table: %w", err)
	}

	var f keywordFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse keyword table: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("keyword table %s contains no rules", path)
	}

	for i := range f.Rules {
		rule := &f.Rules[i]
		rule.Label = NormalizeLabel(rule.Label)
		if rule.Label == "" {
			return nil, fmt.Errorf("keyword table rule %d has an empty label", i)
		}
		if len(rule.Keywords) == 0 {
			return nil, fmt.Errorf("keyword table rule %d (%s) has no keywords", i, rule.Label)
		}
		for j, kw := range rule.Keywords {
			rule.Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}
	}
	return f.Rules, nil
}
