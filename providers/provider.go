package providers

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Identifiers bündelt die externen Publikations-Identifier. Leerer String
// bedeutet unbekannt.
type Identifiers struct {
	DOI   string
	PMID  string
	PMCID string
}

// Empty prüft, ob gar kein Identifier bekannt ist.
func (i Identifiers) Empty() bool {
	return i.DOI == "" && i.PMID == "" && i.PMCID == ""
}

// Metadata ist ein Kandidaten-Satz beschreibender Felder eines Providers.
// Felder, die der Provider nicht kennt, bleiben leer.
type Metadata struct {
	Name        string
	Description string
	Publication string
	Authors     string
	Year        int
	IsOA        *bool
}

// Status unterscheidet intern zwischen Treffer, Nicht-Treffer und
// transientem Fehler. An der Aufrufstelle degradieren NotFound und
// Transient uniform zu "keine neuen Daten" - Provider-Fehler propagieren
// nie nach oben.
type Status int

const (
	StatusFound Status = iota
	StatusNotFound
	StatusTransient
)

// IdentifierProvider löst fehlende Identifier über eine externe API auf.
type IdentifierProvider interface {
	Name() string
	LookupIdentifiers(ctx context.Context, known Identifiers) (Identifiers, Status)
}

// MetadataProvider liefert einen Metadaten-Kandidaten für eine Publikation.
type MetadataProvider interface {
	Name() string
	LookupMetadata(ctx context.Context, known Identifiers) (Metadata, Status)
}

// Retryable meldet, ob ein HTTP-Status einen Wiederholungsversuch wert ist.
func Retryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// DoWithRetry führt einen Request mit bis zu attempts Versuchen aus.
// Wiederholt werden nur Transportfehler sowie 5xx/429-Antworten, mit
// exponentiellem Backoff (gedeckelt bei vier Sekunden). Der Request wird
// pro Versuch neu gebaut, damit Bodies nicht wiederverwendet werden.
func DoWithRetry(ctx context.Context, client *http.Client, logger *zap.Logger, attempts int, build func() (*http.Request, error)) (*http.Response, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req.WithContext(ctx))
		if err == nil && !Retryable(resp.StatusCode) {
			return resp, nil
		}
		if err != nil {
			lastErr = err
			logger.Warn("Provider-Request fehlgeschlagen", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			logger.Warn("Provider-Request mit retry-fähigem Status", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
			// Body leeren, damit die Verbindung wiederverwendet wird.
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = &StatusError{Code: resp.StatusCode}
		}

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 4*time.Second {
			backoff = 4 * time.Second
		}
	}
	return nil, lastErr
}

// StatusError transportiert einen retry-fähigen HTTP-Status als Fehler.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return http.StatusText(e.Code)
}
