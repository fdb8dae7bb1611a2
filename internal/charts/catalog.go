package charts

import (
	"fmt"
	"strings"

	"rotation/internal/game"
)

type Subject string

const (
	SubjectTrack  Subject = "track"
	SubjectEntity Subject = "entity"
)

type Metric string

const (
	MetricPlays     Metric = "plays"
	MetricSpins     Metric = "spins"
	MetricAudience  Metric = "audience"
	MetricFollowers Metric = "followers"
)

var allowedMetrics = map[Subject][]Metric{
	SubjectTrack:  {MetricPlays, MetricSpins},
	SubjectEntity: {MetricPlays, MetricAudience, MetricFollowers},
}

// Spec configures one leaderboard.
type Spec struct {
	Type    string  `yaml:"type" json:"type"`
	Subject Subject `yaml:"subject" json:"subject"`
	Metric  Metric  `yaml:"metric" json:"metric"`
	Cap     int     `yaml:"cap" json:"cap"`
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Type) == "" {
		return fmt.Errorf("chart type name is required")
	}
	metrics, ok := allowedMetrics[s.Subject]
	if !ok {
		return fmt.Errorf("chart %q: unknown subject %q", s.Type, s.Subject)
	}
	found := false
	for _, m := range metrics {
		if m == s.Metric {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("chart %q: metric %q not available for subject %q", s.Type, s.Metric, s.Subject)
	}
	if s.Cap < 1 {
		return fmt.Errorf("chart %q: cap must be >= 1", s.Type)
	}
	return nil
}

func DefaultSpecs() []Spec {
	return []Spec{
		{Type: "top_streams", Subject: SubjectTrack, Metric: MetricPlays, Cap: 100},
		{Type: "radio", Subject: SubjectTrack, Metric: MetricSpins, Cap: 50},
		{Type: "monthly_listeners", Subject: SubjectEntity, Metric: MetricAudience, Cap: 50},
		{Type: "followers", Subject: SubjectEntity, Metric: MetricFollowers, Cap: 50},
	}
}

// Catalog is the validated, ordered set of chart types built each turn.
type Catalog struct {
	specs  []Spec
	byType map[string]Spec
}

func NewCatalog(specs []Spec) (*Catalog, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("chart catalog is empty")
	}
	c := &Catalog{byType: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byType[s.Type]; dup {
			return nil, fmt.Errorf("chart type %q declared twice", s.Type)
		}
		c.byType[s.Type] = s
		c.specs = append(c.specs, s)
	}
	return c, nil
}

func (c *Catalog) Specs() []Spec {
	out := make([]Spec, len(c.specs))
	copy(out, c.specs)
	return out
}

func (c *Catalog) Lookup(chartType string) (Spec, error) {
	s, ok := c.byType[chartType]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", game.ErrInvalidChartType, chartType)
	}
	return s, nil
}
