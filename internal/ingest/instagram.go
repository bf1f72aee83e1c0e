package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/auth"
	"github.com/fpang/media-ingest/internal/chat"
	"github.com/fpang/media-ingest/internal/config"
	"github.com/fpang/media-ingest/internal/instagram"
	"github.com/fpang/media-ingest/internal/media"
	"github.com/fpang/media-ingest/internal/store"
)

// InstagramAPI is the Graph API surface a run needs: the feed plus the
// OAuth token endpoints.
type InstagramAPI interface {
	MediaProvider
	ExchangeCode(ctx context.Context, code, appID, appSecret, redirectURI string) (*instagram.ExchangeCodeResult, error)
	ExchangeLongLivedToken(ctx context.Context, shortToken, appSecret string) (*instagram.LongLivedTokenResult, error)
	RefreshToken(ctx context.Context, longToken string) (*instagram.LongLivedTokenResult, error)
}

// Deps are the collaborators shared by every run.
type Deps struct {
	API         InstagramAPI
	Credentials auth.Store
	Repo        store.Repository
	Describer   chat.Describer
	ImagePrompt string
	AlbumPrompt string
	Enricher    *Enricher
	Config      config.Config
	Now         func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// InstagramProcessor implements Processor for one user's Instagram feed.
type InstagramProcessor struct {
	deps        Deps
	userID      string
	cred        *auth.Credential
	constructor *Constructor
}

var _ Processor = (*InstagramProcessor)(nil)

// NewInstagramProcessor resolves the user's credential. With an auth code the
// code is exchanged for a long-lived token which is then stored, and the run
// is keyed by the Instagram user id the exchange returns: webhooks and
// Meta's deauthorize and deletion callbacks only know that id. Otherwise
// the stored credential is used, refreshed first when it expires within the
// configured window. Returns auth.ErrNoCredential when neither exists.
func NewInstagramProcessor(ctx context.Context, deps Deps, userID, authCode string) (*InstagramProcessor, error) {
	describer := deps.Describer
	if scoped, ok := describer.(chat.RunScoped); ok {
		describer = scoped.ForRun()
	}
	p := &InstagramProcessor{
		deps:        deps,
		userID:      userID,
		constructor: NewConstructor(describer, deps.ImagePrompt, deps.AlbumPrompt),
	}

	if authCode != "" {
		cred, err := p.exchange(ctx, authCode)
		if err != nil {
			return nil, err
		}
		p.cred = cred
		return p, nil
	}

	cred, err := deps.Credentials.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil || cred.AccessToken == "" {
		return nil, auth.ErrNoCredential
	}
	p.cred = p.refreshIfDue(ctx, cred)
	return p, nil
}

func (p *InstagramProcessor) exchange(ctx context.Context, code string) (*auth.Credential, error) {
	cfg := p.deps.Config
	short, err := p.deps.API.ExchangeCode(ctx, code, cfg.InstagramAppID, cfg.InstagramAppSecret, cfg.InstagramRedirectURI)
	if err != nil {
		return nil, fmt.Errorf("exchange auth code: %w", err)
	}
	long, err := p.deps.API.ExchangeLongLivedToken(ctx, short.AccessToken, cfg.InstagramAppSecret)
	if err != nil {
		return nil, fmt.Errorf("exchange long-lived token: %w", err)
	}

	if short.UserID != "" && short.UserID != p.userID {
		log.Info().Str("requestedUserId", p.userID).Str("userId", short.UserID).Msg("Keying account by Instagram user id")
		p.userID = short.UserID
	}

	now := p.deps.now()
	cred := &auth.Credential{
		AccessToken:     long.AccessToken,
		ExpiresAt:       now.Add(time.Duration(long.ExpiresIn) * time.Second),
		InstagramUserID: short.UserID,
		UpdatedAt:       now,
	}
	if err := p.deps.Credentials.Put(ctx, p.userID, cred); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	log.Info().Str("userId", p.userID).Str("instagramUserId", short.UserID).Time("expiresAt", cred.ExpiresAt).Msg("Instagram account connected")
	return cred, nil
}

// refreshIfDue refreshes a credential close to expiry. A failed refresh
// keeps the current token.
func (p *InstagramProcessor) refreshIfDue(ctx context.Context, cred *auth.Credential) *auth.Credential {
	now := p.deps.now()
	if !cred.NeedsRefresh(now, p.deps.Config.RefreshWindow) || cred.Expired(now) {
		return cred
	}
	long, err := p.deps.API.RefreshToken(ctx, cred.AccessToken)
	if err != nil {
		log.Warn().Err(err).Str("userId", p.userID).Time("expiresAt", cred.ExpiresAt).Msg("Token refresh failed, using current token")
		return cred
	}
	refreshed := &auth.Credential{
		AccessToken:     long.AccessToken,
		ExpiresAt:       now.Add(time.Duration(long.ExpiresIn) * time.Second),
		InstagramUserID: cred.InstagramUserID,
		UpdatedAt:       now,
	}
	if err := p.deps.Credentials.Put(ctx, p.userID, refreshed); err != nil {
		log.Warn().Err(err).Str("userId", p.userID).Msg("Storing refreshed token failed")
	}
	log.Info().Str("userId", p.userID).Time("expiresAt", refreshed.ExpiresAt).Msg("Instagram token refreshed")
	return refreshed
}

// UserID implements Processor.
func (p *InstagramProcessor) UserID() string { return p.userID }

// Authorize implements Processor. An expired token fails the run.
func (p *InstagramProcessor) Authorize(context.Context) error {
	if p.cred == nil || p.cred.AccessToken == "" {
		return auth.ErrNoCredential
	}
	if p.cred.Expired(p.deps.now()) {
		return fmt.Errorf("instagram token expired at %s: %w", p.cred.ExpiresAt.Format(time.RFC3339), auth.ErrNoCredential)
	}
	return nil
}

// FetchData implements Processor.
func (p *InstagramProcessor) FetchData(ctx context.Context) ([]media.RawEntry, error) {
	latest, err := p.deps.Repo.GetLatest(ctx, p.userID)
	if err != nil {
		return nil, fmt.Errorf("load latest media: %w", err)
	}
	entries, err := FetchNew(ctx, p.deps.API, p.cred.AccessToken, latest, p.deps.Config.FetchCap)
	if err != nil {
		return nil, err
	}
	log.Info().Str("userId", p.userID).Int("new", len(entries)).Bool("firstSync", latest == nil).Msg("Fetched new media")
	return entries, nil
}

// ExtractAndPreprocess implements Processor.
func (p *InstagramProcessor) ExtractAndPreprocess(ctx context.Context, entries []media.RawEntry) ([]media.Item, error) {
	return ConstructParallel(ctx, p.constructor, p.userID, entries, p.deps.Config.Workers)
}

// SaveToDB implements Processor.
func (p *InstagramProcessor) SaveToDB(ctx context.Context, items []media.Item) (int, error) {
	return p.deps.Repo.Upsert(ctx, items, p.deps.Config.BatchSize)
}

// Enrich implements Processor.
func (p *InstagramProcessor) Enrich(ctx context.Context) int {
	return p.deps.Enricher.Enrich(ctx, p.userID)
}

// DescribeFailures reports the describe calls that failed during this run.
func (p *InstagramProcessor) DescribeFailures() int {
	return p.constructor.DescribeFailures()
}

// Service runs ingestion for any user with a fixed set of collaborators.
type Service struct {
	deps Deps
	opts []Option
}

// NewService creates a Service.
func NewService(deps Deps, opts ...Option) *Service {
	return &Service{deps: deps, opts: opts}
}

// Run ingests new media for userID. authCode is optional. Run never returns
// an error; a missing credential yields a failed Result.
func (s *Service) Run(ctx context.Context, userID, authCode string) Result {
	p, err := NewInstagramProcessor(ctx, s.deps, userID, authCode)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Bool("authCode", authCode != "").Msg("Cannot start ingestion run")
		return Result{UserID: userID, Status: StatusFailed, State: StateFailed, Err: err, StartedAt: s.deps.now()}
	}
	return Execute(ctx, p, s.opts...)
}
