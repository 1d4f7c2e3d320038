package semanticscholar

// Paper repräsentiert ein Paper-Objekt der Semantic Scholar Graph API.
// Einträge der Batch-Antwort können null sein, wenn die ID unbekannt ist.
type Paper struct {
	PaperID     string `json:"paperId"`
	ExternalIDs struct {
		DOI           string `json:"DOI"`
		PubMed        string `json:"PubMed"`
		PubMedCentral string `json:"PubMedCentral"`
	} `json:"externalIds"`
	Title        string `json:"title"`
	Abstract     string `json:"abstract"`
	Venue        string `json:"venue"`
	Year         int    `json:"year"`
	IsOpenAccess *bool  `json:"isOpenAccess"`
	Authors      []struct {
		Name string `json:"name"`
	} `json:"authors"`
}
