package semanticscholar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"context"

	"go.uber.org/zap"

	"neurostore/config"
	"neurostore/providers"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

const batchFields = "externalIds,title,abstract,venue,year,isOpenAccess,authors"

// Fetcher kapselt die Logik für die Semantic Scholar Graph API.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen Semantic Scholar Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "semanticscholar"
}

// LookupIdentifiers löst fehlende Identifier über den Paper-Batch-Endpoint auf.
func (f *Fetcher) LookupIdentifiers(ctx context.Context, known providers.Identifiers) (providers.Identifiers, providers.Status) {
	paper, status := f.fetchPaper(ctx, known)
	if status != providers.StatusFound {
		return providers.Identifiers{}, status
	}
	found := providers.Identifiers{
		DOI:   paper.ExternalIDs.DOI,
		PMID:  paper.ExternalIDs.PubMed,
		PMCID: paper.ExternalIDs.PubMedCentral,
	}
	if found.PMCID != "" && !strings.HasPrefix(found.PMCID, "PMC") {
		found.PMCID = "PMC" + found.PMCID
	}
	return found, providers.StatusFound
}

// LookupMetadata liefert einen Metadaten-Kandidaten über denselben Endpoint.
func (f *Fetcher) LookupMetadata(ctx context.Context, known providers.Identifiers) (providers.Metadata, providers.Status) {
	paper, status := f.fetchPaper(ctx, known)
	if status != providers.StatusFound {
		return providers.Metadata{}, status
	}

	names := make([]string, 0, len(paper.Authors))
	for _, a := range paper.Authors {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}

	return providers.Metadata{
		Name:        paper.Title,
		Description: paper.Abstract,
		Publication: paper.Venue,
		Authors:     strings.Join(names, "; "),
		Year:        paper.Year,
		IsOA:        paper.IsOpenAccess,
	}, providers.StatusFound
}

// fetchPaper ruft den Batch-Endpoint mit allen bekannten Identifiern auf und
// nimmt den ersten nicht-leeren Treffer.
func (f *Fetcher) fetchPaper(ctx context.Context, known providers.Identifiers) (*Paper, providers.Status) {
	ids := batchIDs(known)
	if len(ids) == 0 {
		return nil, providers.StatusNotFound
	}

	log := f.Logger.With(zap.String("provider", f.Name()))

	body, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return nil, providers.StatusNotFound
	}

	reqURL := fmt.Sprintf("%s/paper/batch?fields=%s", f.Config.SemanticScholarBaseURL, batchFields)
	resp, err := providers.DoWithRetry(ctx, httpClient, log, f.Config.ProviderRetryAttempts, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, reqURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if f.Config.SemanticScholarAPIKey != "" {
			req.Header.Set("x-api-key", f.Config.SemanticScholarAPIKey)
		}
		return req, nil
	})
	if err != nil {
		log.Warn("Semantic Scholar nicht erreichbar", zap.Error(err))
		return nil, providers.StatusTransient
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("Semantic Scholar hat nicht-200-Status zurückgegeben", zap.Int("status", resp.StatusCode))
		return nil, providers.StatusNotFound
	}

	var papers []*Paper
	if err := json.NewDecoder(resp.Body).Decode(&papers); err != nil {
		log.Warn("Fehler beim Parsen der Semantic-Scholar-Antwort", zap.Error(err))
		return nil, providers.StatusNotFound
	}

	for _, p := range papers {
		if p != nil && p.PaperID != "" {
			return p, providers.StatusFound
		}
	}
	return nil, providers.StatusNotFound
}

// batchIDs baut die ID-Liste für den Batch-Endpoint aus den bekannten
// Identifiern.
func batchIDs(known providers.Identifiers) []string {
	var ids []string
	if known.DOI != "" {
		ids = append(ids, "DOI:"+known.DOI)
	}
	if known.PMID != "" {
		ids = append(ids, "PMID:"+known.PMID)
	}
	if known.PMCID != "" {
		ids = append(ids, "PMCID:"+strings.TrimPrefix(known.PMCID, "PMC"))
	}
	return ids
}
