package openalex

// WorksResponse ist die Top-Level-Struktur der OpenAlex /works-Antwort.
type WorksResponse struct {
	Results []Work `json:"results"`
}

// Work repräsentiert ein einzelnes Werk in der OpenAlex-Antwort.
type Work struct {
	ID    string `json:"id"`
	DOI   string `json:"doi"`
	Title string `json:"title"`
	IDs   struct {
		PMID  string `json:"pmid"`
		PMCID string `json:"pmcid"`
	} `json:"ids"`
	PublicationYear int `json:"publication_year"`
	OpenAccess      struct {
		IsOA bool `json:"is_oa"`
	} `json:"open_access"`
	PrimaryLocation struct {
		Source struct {
			DisplayName string `json:"display_name"`
		} `json:"source"`
	} `json:"primary_location"`
	Authorships []struct {
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
}
