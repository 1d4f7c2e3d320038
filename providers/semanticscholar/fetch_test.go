package semanticscholar

import (
	"context"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"neurostore/config"
	"neurostore/providers"
)

func testConfig() *config.Config {
	return &config.Config{
		SemanticScholarBaseURL: "https://ss.test/graph/v1",
		ProviderRetryAttempts:  1,
	}
}

func TestLookupIdentifiers(t *testing.T) {
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", `=~^https://ss\.test/graph/v1/paper/batch`,
		httpmock.NewStringResponder(200, `[
			{
				"paperId": "abc123",
				"externalIds": {"DOI": "10.1/x", "PubMed": "12345", "PubMedCentral": "999"},
				"title": "Example Study"
			}
		]`))

	f := NewFetcher(testConfig(), zaptest.NewLogger(t))
	found, status := f.LookupIdentifiers(context.Background(), providers.Identifiers{DOI: "10.1/x"})

	assert.Equal(t, providers.StatusFound, status)
	assert.Equal(t, "10.1/x", found.DOI)
	assert.Equal(t, "12345", found.PMID)
	// Nackte PMC-Nummern bekommen das Präfix.
	assert.Equal(t, "PMC999", found.PMCID)
}

func TestLookupIdentifiersNullEntries(t *testing.T) {
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	// Unbekannte IDs liefert die Batch-API als null-Einträge.
	httpmock.RegisterResponder("POST", `=~^https://ss\.test/graph/v1/paper/batch`,
		httpmock.NewStringResponder(200, `[null]`))

	f := NewFetcher(testConfig(), zaptest.NewLogger(t))
	_, status := f.LookupIdentifiers(context.Background(), providers.Identifiers{PMID: "12345"})
	assert.Equal(t, providers.StatusNotFound, status)
}

func TestLookupMetadata(t *testing.T) {
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", `=~^https://ss\.test/graph/v1/paper/batch`,
		httpmock.NewStringResponder(200, `[
			{
				"paperId": "abc123",
				"title": "Example Study",
				"abstract": "An abstract.",
				"venue": "NeuroImage",
				"year": 2019,
				"isOpenAccess": true,
				"authors": [{"name": "A. Author"}, {"name": "B. Author"}]
			}
		]`))

	f := NewFetcher(testConfig(), zaptest.NewLogger(t))
	md, status := f.LookupMetadata(context.Background(), providers.Identifiers{DOI: "10.1/x"})

	assert.Equal(t, providers.StatusFound, status)
	assert.Equal(t, "Example Study", md.Name)
	assert.Equal(t, "An abstract.", md.Description)
	assert.Equal(t, "NeuroImage", md.Publication)
	assert.Equal(t, "A. Author; B. Author", md.Authors)
	assert.Equal(t, 2019, md.Year)
	if assert.NotNil(t, md.IsOA) {
		assert.True(t, *md.IsOA)
	}
}

func TestLookupIdentifiersServerError(t *testing.T) {
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", `=~^https://ss\.test/graph/v1/paper/batch`,
		httpmock.NewStringResponder(500, `{"error": "boom"}`))

	f := NewFetcher(testConfig(), zaptest.NewLogger(t))
	_, status := f.LookupIdentifiers(context.Background(), providers.Identifiers{DOI: "10.1/x"})
	assert.Equal(t, providers.StatusTransient, status)
}

func TestLookupIdentifiersWithoutKnownIDs(t *testing.T) {
	f := NewFetcher(testConfig(), zaptest.NewLogger(t))
	_, status := f.LookupIdentifiers(context.Background(), providers.Identifiers{})
	assert.Equal(t, providers.StatusNotFound, status)
}
