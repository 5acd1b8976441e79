package tracker

import (
	"context"
	"net/url"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gentrack/internal/common"
	"github.com/ternarybob/gentrack/internal/interfaces"
	"github.com/ternarybob/gentrack/internal/models"
)

// ResultResolver resolves output assets when a job completes. Resolution
// order: outputs embedded in the completion payload, else one fallback
// lookup by job id. Failure is a warning only - the job stays completed.
type ResultResolver struct {
	backend interfaces.BackendClient
	logger  arbor.ILogger
}

// NewResultResolver creates a resolver backed by the asset lookup endpoint
func NewResultResolver(backend interfaces.BackendClient, logger arbor.ILogger) *ResultResolver {
	return &ResultResolver{
		backend: backend,
		logger:  logger,
	}
}

// Resolve returns the job's output assets with a cache-defeating token
// appended to each URL, or nil when nothing could be resolved.
func (r *ResultResolver) Resolve(ctx context.Context, jobID string, embedded []models.Asset) []models.Asset {
	outputs := embedded

	if len(outputs) == 0 {
		assets, err := r.backend.GetJobAssets(ctx, jobID)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("job_id", jobID).
				Msg("Fallback asset lookup failed - job remains completed without outputs")
			return nil
		}
		outputs = assets
	}

	if len(outputs) == 0 {
		r.logger.Warn().Str("job_id", jobID).Msg("Completed job produced no resolvable outputs")
		return nil
	}

	token := common.NewCacheToken()
	resolved := make([]models.Asset, len(outputs))
	for i, asset := range outputs {
		asset.URL = appendCacheToken(asset.URL, token)
		resolved[i] = asset
	}

	r.logger.Info().
		Str("job_id", jobID).
		Int("outputs", len(resolved)).
		Msg("Job outputs resolved")
	return resolved
}

// appendCacheToken adds a cb=<token> query parameter so downstream caches
// never serve a stale artifact for a reused URL.
func appendCacheToken(rawURL, token string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	query.Set("cb", token)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
