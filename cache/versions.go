package cache

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"neurostore/config"
)

// pathRE erkennt Pfade der Form /api/<resource>(/<id>)?/?
var pathRE = regexp.MustCompile(`^/api/([a-z-]+)(?:/([A-Za-z0-9-]+))?/?$`)

// Versions ist der Cache-Version-Store: pro (Ressource, optionale Objekt-ID)
// ein monoton wachsender Zähler in Redis. Weil die Version Teil des
// Cache-Keys ist, invalidiert ein Bump alle zuvor erzeugten Keys für die
// Ressource, ohne dass Keys aufgezählt oder gescannt werden müssen.
//
// Der Client wird einmal beim Start erzeugt und per Referenz übergeben;
// Lookups sind fail-open ("0"), Bumps best-effort. Ein Ausfall des
// Cache-Backends darf weder Reads noch Writes brechen.
type Versions struct {
	RDB    *goredis.Client
	Logger *zap.Logger
	Prefix string
}

// NewVersions erstellt den Version-Store samt Redis-Client. Ein
// fehlschlagender Ping ist kein Fehler, der Store degradiert dann zu "0".
func NewVersions(cfg *config.Config, logger *zap.Logger) *Versions {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.RedisAddr,
		DB:          cfg.RedisDB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis nicht erreichbar, Cache-Versionierung degradiert", zap.Error(err))
	}

	return &Versions{RDB: rdb, Logger: logger, Prefix: cfg.CacheVersionPrefix}
}

// Close schließt den Redis-Client.
func (v *Versions) Close() error {
	if v == nil || v.RDB == nil {
		return nil
	}
	return v.RDB.Close()
}

func (v *Versions) key(resource, objectID string) string {
	if objectID == "" {
		objectID = "list"
	}
	return fmt.Sprintf("%s:cache-version:%s:%s", v.Prefix, resource, objectID)
}

// Get liefert die aktuelle Version für eine Ressource bzw. ein Objekt.
// Fehlende Keys und jeder Redis-Fehler liefern "0".
func (v *Versions) Get(ctx context.Context, resource, objectID string) string {
	if v == nil || v.RDB == nil || resource == "" {
		return "0"
	}
	val, err := v.RDB.Get(ctx, v.key(resource, objectID)).Result()
	if err != nil {
		if err != goredis.Nil {
			v.Logger.Warn("Cache-Version-Lookup fehlgeschlagen", zap.String("resource", resource), zap.Error(err))
		}
		return "0"
	}
	return val
}

// ForPath parst einen API-Pfad und delegiert an Get. Nicht parsebare Pfade
// liefern "0".
func (v *Versions) ForPath(ctx context.Context, path string) string {
	m := pathRE.FindStringSubmatch(path)
	if m == nil {
		return "0"
	}
	return v.Get(ctx, m[1], m[2])
}

// Bump inkrementiert für jede Ressource mit nicht-leerer ID-Menge den
// Listen-Zähler einmal und jeden Objekt-Zähler einmal, in einem einzigen
// Pipeline-Roundtrip. Fehler werden geschluckt: Cache-Invalidierung darf
// Writes nicht fehlschlagen lassen.
func (v *Versions) Bump(ctx context.Context, idsByResource map[string][]uint) {
	if v == nil || v.RDB == nil || len(idsByResource) == 0 {
		return
	}

	pipe := v.RDB.Pipeline()
	queued := 0
	for resource, ids := range idsByResource {
		if len(ids) == 0 {
			continue
		}
		pipe.Incr(ctx, v.key(resource, ""))
		queued++
		for _, id := range ids {
			pipe.Incr(ctx, v.key(resource, fmt.Sprintf("%d", id)))
			queued++
		}
	}
	if queued == 0 {
		return
	}
	if _, err := pipe.Exec(ctx); err != nil {
		v.Logger.Warn("Cache-Version-Bump fehlgeschlagen", zap.Int("keys", queued), zap.Error(err))
	}
}

// Key baut den Request-Cache-Key: Pfad, sortierte Query-Argumente, User-ID
// und die aktuelle Version. Weil die Version eingebettet ist, macht ein Bump
// alle älteren Keys automatisch zu Misses.
func Key(path string, query url.Values, userID, version string) string {
	args := make([]string, 0, len(query))
	for k, vals := range query {
		for _, val := range vals {
			args = append(args, k+"="+val)
		}
	}
	sort.Strings(args)

	parts := []string{path}
	parts = append(parts, args...)
	parts = append(parts, userID, "v="+version)
	return strings.Join(parts, "_")
}
