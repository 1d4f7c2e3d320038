package openalex

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
		OpenAlexBaseURL:       "https://openalex.test",
		ProviderRetryAttempts: 1,
	}
}

func TestLookupIdentifiersStripsURLPrefixes(t *testing.T) {
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^https://openalex\.test/works`,
		httpmock.NewStringResponder(200, `{
			"results": [
				{
					"id": "https://openalex.org/W1",
					"doi": "https://doi.org/10.1/x",
					"ids": {
						"pmid": "https://pubmed.ncbi.nlm.nih.gov/12345/",
						"pmcid": "https://www.ncbi.nlm.nih.gov/pmc/articles/PMC999/"
					}
				}
			]
		}`))

	f := NewFetcher(testConfig(), zaptest.NewLogger(t))
	found, status := f.LookupIdentifiers(context.Background(), providers.Identifiers{DOI: "10.1/x"})

	assert.Equal(t, providers.StatusFound, status)
	assert.Equal(t, "10.1/x", found.DOI)
	assert.Equal(t, "12345", found.PMID)
	assert.Equal(t, "PMC999", found.PMCID)
}

func TestLookupMetadata(t *testing.T) {
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^https://openalex\.test/works`,
		httpmock.NewStringResponder(200, `{
			"results": [
				{
					"id": "https://openalex.org/W1",
					"title": "Example Study",
					"publication_year": 2019,
					"open_access": {"is_oa": true},
					"primary_location": {"source": {"display_name": "NeuroImage"}},
					"authorships": [
						{"author": {"display_name": "A. Author"}},
						{"author": {"display_name": "B. Author"}}
					]
				}
			]
		}`))

	f := NewFetcher(testConfig(), zaptest.NewLogger(t))
	md, status := f.LookupMetadata(context.Background(), providers.Identifiers{PMID: "12345"})

	assert.Equal(t, providers.StatusFound, status)
	assert.Equal(t, "Example Study", md.Name)
	assert.Equal(t, "NeuroImage", md.Publication)
	assert.Equal(t, "A. Author; B. Author", md.Authors)
	assert.Equal(t, 2019, md.Year)
	if assert.NotNil(t, md.IsOA) {
		assert.True(t, *md.IsOA)
	}
}

func TestLookupIdentifiersEmptyResults(t *testing.T) {
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^https://openalex\.test/works`,
		httpmock.NewStringResponder(200, `{"results": []}`))

	f := NewFetcher(testConfig(), zaptest.NewLogger(t))
	_, status := f.LookupIdentifiers(context.Background(), providers.Identifiers{PMCID: "PMC999"})
	assert.Equal(t, providers.StatusNotFound, status)
}

func TestLookupIdentifiersRateLimited(t *testing.T) {
	httpmock.ActivateNonDefault(httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", `=~^https://openalex\.test/works`,
		httpmock.NewStringResponder(429, "slow down"))

	f := NewFetcher(testConfig(), zaptest.NewLogger(t))
	_, status := f.LookupIdentifiers(context.Background(), providers.Identifiers{DOI: "10.1/x"})
	assert.Equal(t, providers.StatusTransient, status)
}

func TestStripPrefixes(t *testing.T) {
	assert.Equal(t, "10.1/x", stripDOIPrefix("https://doi.org/10.1/x"))
	assert.Equal(t, "10.1/x", stripDOIPrefix("10.1/x"))
	assert.Equal(t, "", stripDOIPrefix(""))
	assert.Equal(t, "12345", stripPMIDPrefix("https://pubmed.ncbi.nlm.nih.gov/12345/"))
	assert.Equal(t, "PMC999", stripPMCIDPrefix("https://www.ncbi.nlm.nih.gov/pmc/articles/PMC999/"))
}
