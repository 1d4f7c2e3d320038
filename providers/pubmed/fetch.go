package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"neurostore/config"
	"neurostore/providers"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher ist eine Struktur, die die Logik zur Interaktion mit PubMed kapselt.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt eine neue Instanz des PubMed-Fetchers.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "pubmed"
}

// LookupIdentifiers löst fehlende Identifier über den PMC ID Converter auf.
// Der Converter akzeptiert PMID, PMCID oder DOI als Eingabe.
func (f *Fetcher) LookupIdentifiers(ctx context.Context, known providers.Identifiers) (providers.Identifiers, providers.Status) {
	var input string
	switch {
	case known.PMID != "":
		input = known.PMID
	case known.PMCID != "":
		input = known.PMCID
	case known.DOI != "":
		input = known.DOI
	default:
		return providers.Identifiers{}, providers.StatusNotFound
	}

	log := f.Logger.With(zap.String("provider", f.Name()), zap.String("input", input))

	convURL := fmt.Sprintf("%s?ids=%s&format=json&tool=%s&email=%s",
		f.Config.PubMedIDConvURL, url.QueryEscape(input),
		url.QueryEscape(f.Config.PubMedTool), url.QueryEscape(f.Config.PubMedEmail))

	resp, err := providers.DoWithRetry(ctx, httpClient, log, f.Config.ProviderRetryAttempts, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, convURL, nil)
	})
	if err != nil {
		log.Warn("PMC ID Converter nicht erreichbar", zap.Error(err))
		return providers.Identifiers{}, providers.StatusTransient
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("PMC ID Converter hat nicht-200-Status zurückgegeben", zap.Int("status", resp.StatusCode))
		return providers.Identifiers{}, providers.StatusNotFound
	}

	var conv IDConvResponse
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		log.Warn("Fehler beim Parsen der ID-Converter-Antwort", zap.Error(err))
		return providers.Identifiers{}, providers.StatusNotFound
	}
	if len(conv.Records) == 0 {
		return providers.Identifiers{}, providers.StatusNotFound
	}

	rec := conv.Records[0]
	return providers.Identifiers{DOI: rec.DOI, PMID: rec.PMID, PMCID: rec.PMCID}, providers.StatusFound
}

// LookupMetadata holt vollständige Metadaten via EFetch. Ohne PMID gibt es
// keinen Treffer, EFetch ist strikt PMID-basiert.
func (f *Fetcher) LookupMetadata(ctx context.Context, known providers.Identifiers) (providers.Metadata, providers.Status) {
	if known.PMID == "" {
		return providers.Metadata{}, providers.StatusNotFound
	}

	log := f.Logger.With(zap.String("provider", f.Name()), zap.String("pmid", known.PMID))

	efetchURL := fmt.Sprintf("%s/efetch.fcgi?db=pubmed&id=%s&retmode=xml",
		f.Config.PubMedBaseURL, url.QueryEscape(known.PMID))
	if f.Config.PubMedAPIKey != "" {
		efetchURL += "&api_key=" + f.Config.PubMedAPIKey
	}

	resp, err := providers.DoWithRetry(ctx, httpClient, log, f.Config.ProviderRetryAttempts, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, efetchURL, nil)
	})
	if err != nil {
		log.Warn("EFetch nicht erreichbar", zap.Error(err))
		return providers.Metadata{}, providers.StatusTransient
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("EFetch hat nicht-200-Status zurückgegeben", zap.Int("status", resp.StatusCode))
		return providers.Metadata{}, providers.StatusNotFound
	}

	var articleSet PubmedArticleSet
	if err := xml.NewDecoder(resp.Body).Decode(&articleSet); err != nil {
		log.Warn("Fehler beim Parsen der EFetch-XML-Antwort", zap.Error(err))
		return providers.Metadata{}, providers.StatusNotFound
	}
	if len(articleSet.PubmedArticle) == 0 {
		return providers.Metadata{}, providers.StatusNotFound
	}

	return mapArticleToMetadata(&articleSet.PubmedArticle[0]), providers.StatusFound
}

// mapArticleToMetadata wandelt ein XML-Article-Objekt in einen
// Metadaten-Kandidaten um.
func mapArticleToMetadata(article *PubmedArticle) providers.Metadata {
	md := providers.Metadata{
		Name:        article.MedlineCitation.Article.Title,
		Description: strings.Join(article.MedlineCitation.Article.Abstract.Text, "\n"),
		Publication: article.MedlineCitation.Article.Journal.Title,
	}

	var authors []string
	for _, author := range article.MedlineCitation.Article.Authors {
		name := strings.TrimSpace(author.Initials + " " + author.LastName)
		if name != "" {
			authors = append(authors, name)
		}
	}
	md.Authors = strings.Join(authors, ", ")

	if y, err := strconv.Atoi(article.MedlineCitation.Article.Journal.PubDate.Year); err == nil {
		md.Year = y
	}

	return md
}
