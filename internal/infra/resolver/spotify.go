package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/hiroq/otobox/internal/domain/track"
)

// SpotifyConfig represents Spotify resolver settings.
type SpotifyConfig struct {
	ClientID     string `mapstructure:"client_id" validate:"required"`
	ClientSecret string `mapstructure:"client_secret" validate:"required"`
	RefreshToken string `mapstructure:"refresh_token" validate:"required"`
	Market       string `mapstructure:"market"`
}

// SpotifyResolver resolves tracks and playlist listings through the
// Spotify Web API.
type SpotifyResolver struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// NewSpotify creates a Spotify-backed resolver.
func NewSpotify(ctx context.Context, cfg SpotifyConfig) (*SpotifyResolver, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithScopes(spotifyauth.ScopePlaylistReadPrivate),
	)
	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	httpClient := auth.Client(ctx, token)

	return &SpotifyResolver{
		client:     spotify.New(httpClient),
		market:     cfg.Market,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// Resolve returns the track for a Spotify URL, URI, bare track ID or
// free-text search query.
func (r *SpotifyResolver) Resolve(ctx context.Context, queryOrURL string) (track.Track, error) {
	if id, ok := trackID(queryOrURL); ok {
		return r.resolveByID(ctx, id)
	}
	return r.resolveBySearch(ctx, queryOrURL)
}

// ListPlaylist returns the track IDs of a playlist in order. Entries
// are not resolved; episodes and local files are skipped.
func (r *SpotifyResolver) ListPlaylist(ctx context.Context, sourceRef string) ([]string, error) {
	id := playlistID(sourceRef)
	if id == "" {
		return nil, errors.Mark(errors.Newf("invalid playlist reference %q", sourceRef), ErrNotFound)
	}

	var ids []string
	offset := 0
	const limit = 100

	for {
		var page *spotify.PlaylistItemPage
		err := r.retry(func() error {
			p, err := r.client.GetPlaylistItems(ctx, spotify.ID(id),
				spotify.Limit(limit),
				spotify.Offset(offset),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "get playlist items")
		}

		for _, item := range page.Items {
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				ids = append(ids, string(item.Track.Track.ID))
			}
		}

		if len(page.Items) < limit {
			break
		}
		offset += limit
	}

	return ids, nil
}

func (r *SpotifyResolver) resolveByID(ctx context.Context, id string) (track.Track, error) {
	var opts []spotify.RequestOption
	if r.market != "" {
		opts = append(opts, spotify.Market(r.market))
	}

	var result *spotify.FullTrack
	err := r.retry(func() error {
		t, err := r.client.GetTrack(ctx, spotify.ID(id), opts...)
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return track.Track{}, errors.Mark(errors.Wrapf(err, "get track %s", id), ErrNotFound)
	}
	return r.convert(result)
}

func (r *SpotifyResolver) resolveBySearch(ctx context.Context, query string) (track.Track, error) {
	if strings.TrimSpace(query) == "" {
		return track.Track{}, errors.Mark(errors.New("empty query"), ErrNotFound)
	}

	var result *spotify.SearchResult
	err := r.retry(func() error {
		sr, err := r.client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(1))
		if err != nil {
			return err
		}
		result = sr
		return nil
	})
	if err != nil {
		return track.Track{}, errors.Wrap(err, "search")
	}
	if result.Tracks == nil || len(result.Tracks.Tracks) == 0 {
		return track.Track{}, errors.Mark(errors.Newf("no results for %q", query), ErrNotFound)
	}
	return r.convert(&result.Tracks.Tracks[0])
}

func (r *SpotifyResolver) convert(t *spotify.FullTrack) (track.Track, error) {
	if t.IsPlayable != nil && !*t.IsPlayable {
		return track.Track{}, errors.Mark(errors.Newf("track %s not playable in market", t.ID), ErrUnplayable)
	}

	title := t.Name
	if len(t.Artists) > 0 {
		title = t.Artists[0].Name + " - " + t.Name
	}
	var thumbnail string
	if len(t.Album.Images) > 0 {
		thumbnail = t.Album.Images[0].URL
	}

	return track.Track{
		StreamLocator: "spotify:track:" + string(t.ID),
		Title:         title,
		Duration:      t.TimeDuration(),
		DisplayURL:    t.ExternalURLs["spotify"],
		ThumbnailURL:  thumbnail,
	}, nil
}

// retry runs fn up to maxRetries times with linear backoff, retrying
// only rate-limit and server errors.
func (r *SpotifyResolver) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < r.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		if i < r.maxRetries-1 {
			time.Sleep(r.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504")
}

// trackID extracts a track ID from a Spotify URL, URI or bare ID.
// Free-text queries report false.
func trackID(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:"), true
	}
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/"), true
	}
	// A bare 22-character base62 string is treated as an ID.
	if len(input) == 22 && !strings.ContainsAny(input, " :/") {
		return input, true
	}
	return "", false
}

// playlistID extracts a playlist ID from a Spotify URL, URI or bare ID.
func playlistID(input string) string {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "spotify:playlist:") {
		return strings.TrimPrefix(input, "spotify:playlist:")
	}
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/playlist/") {
		parts := strings.Split(input, "/playlist/")
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}
	return input
}
