package collect

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrowsec/ghtrail/internal/evidence"
	"github.com/harrowsec/ghtrail/internal/source"
)

// VendorReport is a security vendor write-up (advisory, blog post,
// incident report) declared in YAML. The article itself becomes an
// observation; each declared indicator becomes an IOC, minted through the
// same substantiation gate as any other.
type VendorReport struct {
	SourceName string     `yaml:"source_name"`
	URL        string     `yaml:"url"`
	Title      string     `yaml:"title"`
	Author     string     `yaml:"author"`
	Published  *time.Time `yaml:"published"`
	Summary    string     `yaml:"summary"`
	Repository string     `yaml:"repository"`

	// Content is an optional cached copy of the article body. When set,
	// IOC substantiation runs against it instead of refetching the URL.
	Content string `yaml:"content"`

	IOCs []VendorIOC `yaml:"iocs"`
}

// VendorIOC is one indicator declared by a vendor report.
type VendorIOC struct {
	Type      evidence.IOCType `yaml:"type"`
	Value     string           `yaml:"value"`
	URL       string           `yaml:"url"`
	FirstSeen *time.Time       `yaml:"first_seen"`
	LastSeen  *time.Time       `yaml:"last_seen"`
	Context   string           `yaml:"context"`
}

// LoadVendorReport parses a report file.
func LoadVendorReport(path string) (*VendorReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report VendorReport
	if err := yaml.Unmarshal(data, &report); err != nil {
		return nil, &source.SchemaError{Detail: fmt.Sprintf("vendor report %s: %v", path, err)}
	}
	if report.URL == "" || report.Title == "" {
		return nil, &source.SchemaError{Detail: fmt.Sprintf("vendor report %s: missing url or title", path)}
	}
	return &report, nil
}

// ArticleParams describe an external write-up to record.
type ArticleParams struct {
	URL        string
	Title      string
	Author     string
	Published  *time.Time
	SourceName string
	Summary    string
	Repository *evidence.Repository
}

// Article records an external article documenting an incident. The ID
// derives from the URL alone, so re-collecting the same article merges
// instead of duplicating.
func (f *Factory) Article(p ArticleParams) (*evidence.ArticleObservation, error) {
	article := &evidence.ArticleObservation{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindArticle, p.URL),
			OriginalWhat: p.Title,
			ObservedWhen: f.now(),
			ObservedBy:   evidence.SourceVendor,
			ObservedWhat: fmt.Sprintf("article %q from %s", p.Title, p.SourceName),
			Repository:   p.Repository,
			Verification: evidence.Verification{
				Source:    evidence.SourceVendor,
				URL:       p.URL,
				QueriedAt: f.now(),
			},
		},
		ObservationType: evidence.KindArticle,
		URL:             p.URL,
		Title:           p.Title,
		Author:          p.Author,
		SourceName:      p.SourceName,
		Summary:         p.Summary,
	}
	if p.Published != nil {
		article.PublishedDate = evidence.NormTimePtr(*p.Published)
		article.OriginalWhen = article.PublishedDate
	}
	if err := article.Validate(); err != nil {
		return nil, err
	}
	return article, nil
}

// CollectVendorReport turns a report into evidence: one article
// observation plus one IOC per declared indicator. An indicator that
// fails substantiation fails the whole collection; a vendor report with
// unverifiable claims is not worth partially trusting.
func (f *Factory) CollectVendorReport(ctx context.Context, report *VendorReport) ([]evidence.Evidence, error) {
	var repo *evidence.Repository
	if report.Repository != "" {
		owner, name := splitFullName(report.Repository)
		repo = evidence.NewRepository(owner, name)
	}

	article, err := f.Article(ArticleParams{
		URL:        report.URL,
		Title:      report.Title,
		Author:     report.Author,
		Published:  report.Published,
		SourceName: report.SourceName,
		Summary:    report.Summary,
		Repository: repo,
	})
	if err != nil {
		return nil, err
	}

	out := []evidence.Evidence{article}
	for _, declared := range report.IOCs {
		params := IOCParams{
			Type:          declared.Type,
			Value:         declared.Value,
			URL:           declared.URL,
			ObservedBy:    evidence.SourceVendor,
			Repository:    repo,
			ExtractedFrom: article.ID(),
			Context:       declared.Context,
		}
		if params.URL == "" {
			params.URL = report.URL
			params.Content = report.Content
		}
		if declared.FirstSeen != nil {
			params.FirstSeen = *declared.FirstSeen
		}
		if declared.LastSeen != nil {
			params.LastSeen = *declared.LastSeen
		}
		ioc, err := f.IOC(ctx, params)
		if err != nil {
			return nil, err
		}
		article.EvidenceIDs = append(article.EvidenceIDs, ioc.ID())
		out = append(out, ioc)
	}
	return out, nil
}
