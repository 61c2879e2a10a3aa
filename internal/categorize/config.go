package categorize

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"gopkg.in/yaml.v3"
)

// Rule maps a category to the substring patterns that select it. Patterns are
// matched case-insensitively against merchant name first, then description;
// the first matching rule in config order wins with confidence 1.0.
type Rule struct {
	Category string   `yaml:"name"`
	Patterns []string `yaml:"keywords"`
}

// Config is the immutable categorization taxonomy: the ordered rule table,
// the similarity threshold for the embedding fallback, and the category order
// used both for exemplar construction and for deterministic tie-breaking.
// Loaded once at startup and injected into the engine; never mutated.
type Config struct {
	Rules     []Rule  `yaml:"categories"`
	Threshold float64 `yaml:"threshold"`
}

// Categories returns the category names in rule order. This order is the
// fixed tie-break priority for equal similarities.
func (c *Config) Categories() []string {
	names := make([]string, 0, len(c.Rules))
	for _, r := range c.Rules {
		names = append(names, r.Category)
	}
	return names
}

// ExemplarText returns the text embedded as the category's exemplar: the
// category name followed by its keywords, matching how the stored exemplar
// set was originally computed.
func (r Rule) ExemplarText() string {
	return strings.TrimSpace(r.Category + " " + strings.Join(r.Patterns, " "))
}

// DefaultThreshold is the minimum cosine similarity for an embedding match;
// below it the transaction stays Uncategorized.
const DefaultThreshold = 0.35

// LoadConfig reads a taxonomy from a local path or a gs:// URI.
func LoadConfig(ctx context.Context, uri string) (*Config, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(uri, "gs://") {
		data, err = fetchFromGCS(ctx, uri)
	} else {
		data, err = os.ReadFile(uri)
	}
	if err != nil {
		return nil, fmt.Errorf("load categorization config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes the YAML taxonomy and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse categorization config: %w", err)
	}
	if len(cfg.Rules) == 0 {
		return nil, fmt.Errorf("categorization config has no categories")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &cfg, nil
}

// fetchFromGCS downloads an object given a "gs://bucket/object" URI.
func fetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	trimmed := strings.TrimPrefix(gcsURI, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(parts[0]).Object(parts[1]).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}

// DefaultConfig is the built-in taxonomy used when no config file is given.
func DefaultConfig() *Config {
	return &Config{
		Threshold: DefaultThreshold,
		Rules: []Rule{
			{Category: "Food & Dining", Patterns: []string{"restaurant", "cafe", "coffee", "starbucks", "food", "dining", "pizza", "burger", "sushi", "bar", "pub", "bakery", "grocery", "supermarket", "market"}},
			{Category: "Shopping", Patterns: []string{"amazon", "walmart", "target", "store", "shop", "retail", "mall", "clothing", "fashion", "electronics"}},
			{Category: "Transportation", Patterns: []string{"uber", "lyft", "taxi", "gas station", "fuel", "parking", "metro", "train", "bus", "transit"}},
			{Category: "Bills & Utilities", Patterns: []string{"electric", "water", "internet", "phone", "mobile", "utility", "bill", "insurance", "rent", "mortgage"}},
			{Category: "Entertainment", Patterns: []string{"netflix", "spotify", "hulu", "disney", "movie", "theater", "cinema", "concert", "gaming"}},
			{Category: "Healthcare", Patterns: []string{"doctor", "hospital", "pharmacy", "medical", "health", "clinic", "dental", "dentist", "prescription"}},
			{Category: "Travel", Patterns: []string{"hotel", "airbnb", "booking", "travel", "vacation", "resort", "airline", "flight", "rental car"}},
			{Category: "Personal Care", Patterns: []string{"salon", "spa", "gym", "fitness", "beauty", "haircut", "massage", "cosmetics"}},
			{Category: "Education", Patterns: []string{"school", "university", "college", "tuition", "course", "education", "learning"}},
			{Category: "Income", Patterns: []string{"salary", "paycheck", "payroll", "direct deposit", "refund", "reimbursement"}},
			{Category: "Transfer", Patterns: []string{"transfer", "venmo", "paypal", "zelle", "cashapp"}},
		},
	}
}
