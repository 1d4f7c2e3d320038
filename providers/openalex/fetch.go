package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"neurostore/config"
	"neurostore/providers"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Fetcher kapselt die Logik für die OpenAlex Works API.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen OpenAlex-Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "openalex"
}

// LookupIdentifiers löst fehlende Identifier über die Works-Suche auf.
func (f *Fetcher) LookupIdentifiers(ctx context.Context, known providers.Identifiers) (providers.Identifiers, providers.Status) {
	work, status := f.fetchWork(ctx, known)
	if status != providers.StatusFound {
		return providers.Identifiers{}, status
	}
	return providers.Identifiers{
		DOI:   stripDOIPrefix(work.DOI),
		PMID:  stripPMIDPrefix(work.IDs.PMID),
		PMCID: stripPMCIDPrefix(work.IDs.PMCID),
	}, providers.StatusFound
}

// LookupMetadata liefert einen Metadaten-Kandidaten aus der Works-Suche.
func (f *Fetcher) LookupMetadata(ctx context.Context, known providers.Identifiers) (providers.Metadata, providers.Status) {
	work, status := f.fetchWork(ctx, known)
	if status != providers.StatusFound {
		return providers.Metadata{}, status
	}

	var authors []string
	for _, a := range work.Authorships {
		if a.Author.DisplayName != "" {
			authors = append(authors, a.Author.DisplayName)
		}
	}

	isOA := work.OpenAccess.IsOA
	return providers.Metadata{
		Name:        work.Title,
		Publication: work.PrimaryLocation.Source.DisplayName,
		Authors:     strings.Join(authors, "; "),
		Year:        work.PublicationYear,
		IsOA:        &isOA,
	}, providers.StatusFound
}

// fetchWork ruft /works mit einem Identifier-Filter auf und nimmt das erste
// Ergebnis.
func (f *Fetcher) fetchWork(ctx context.Context, known providers.Identifiers) (*Work, providers.Status) {
	var filter string
	switch {
	case known.DOI != "":
		filter = "doi:" + known.DOI
	case known.PMID != "":
		filter = "pmid:" + known.PMID
	case known.PMCID != "":
		filter = "pmcid:" + known.PMCID
	default:
		return nil, providers.StatusNotFound
	}

	log := f.Logger.With(zap.String("provider", f.Name()), zap.String("filter", filter))

	worksURL := fmt.Sprintf("%s/works?filter=%s&per-page=1", f.Config.OpenAlexBaseURL, url.QueryEscape(filter))
	if f.Config.OpenAlexMailto != "" {
		worksURL += "&mailto=" + url.QueryEscape(f.Config.OpenAlexMailto)
	}

	resp, err := providers.DoWithRetry(ctx, httpClient, log, f.Config.ProviderRetryAttempts, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, worksURL, nil)
	})
	if err != nil {
		log.Warn("OpenAlex nicht erreichbar", zap.Error(err))
		return nil, providers.StatusTransient
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("OpenAlex hat nicht-200-Status zurückgegeben", zap.Int("status", resp.StatusCode))
		return nil, providers.StatusNotFound
	}

	var works WorksResponse
	if err := json.NewDecoder(resp.Body).Decode(&works); err != nil {
		log.Warn("Fehler beim Parsen der OpenAlex-Antwort", zap.Error(err))
		return nil, providers.StatusNotFound
	}
	if len(works.Results) == 0 {
		return nil, providers.StatusNotFound
	}
	return &works.Results[0], providers.StatusFound
}

// OpenAlex liefert Identifier als URLs; wir normalisieren auf nackte Werte.
func stripDOIPrefix(s string) string {
	s = strings.TrimPrefix(s, "https://doi.org/")
	s = strings.TrimPrefix(s, "http://doi.org/")
	return strings.TrimSpace(s)
}

func stripPMIDPrefix(s string) string {
	s = strings.TrimPrefix(s, "https://pubmed.ncbi.nlm.nih.gov/")
	return strings.Trim(strings.TrimSpace(s), "/")
}

func stripPMCIDPrefix(s string) string {
	s = strings.TrimPrefix(s, "https://www.ncbi.nlm.nih.gov/pmc/articles/")
	return strings.Trim(strings.TrimSpace(s), "/")
}
