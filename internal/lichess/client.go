// Package lichess fetches a player's recent games from the Lichess archive
// as NDJSON and keeps only the fields needed to replay them.
package lichess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const DefaultBaseURL = "https://lichess.org"

var (
	ErrInvalidHandle = errors.New("invalid lichess handle")
	ErrUserNotFound  = errors.New("lichess user not found")
	ErrUnavailable   = errors.New("lichess archive unavailable")
)

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,30}$`)

// ValidHandle reports whether s is a syntactically valid Lichess username.
func ValidHandle(s string) bool { return handlePattern.MatchString(s) }

// Game is the replay-relevant part of one archived game.
type Game struct {
	ID          string
	Variant     string // "standard", "chess960", "fromPosition", ...
	InitialFEN  string // empty for the standard start
	Moves       []string
	White       string
	Black       string
	WhiteRating int
	BlackRating int
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string // optional personal API token
	HTTPClient *http.Client
	Logger     zerolog.Logger
	UserAgent  string
}

// Client talks to the Lichess game export API.
type Client struct {
	base  string
	token string
	http  *http.Client
	log   zerolog.Logger
	agent string
}

// New creates a client, filling defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "realistic-chess-puzzles"
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  cfg.HTTPClient,
		log:   cfg.Logger.With().Str("component", "lichess").Logger(),
		agent: cfg.UserAgent,
	}
}

// wire shapes of the export API
type exportPlayer struct {
	User struct {
		Name string `json:"name"`
	} `json:"user"`
	Rating int `json:"rating"`
}

type exportGame struct {
	ID         string `json:"id"`
	Variant    string `json:"variant"`
	InitialFen string `json:"initialFen"`
	Moves      string `json:"moves"`
	Players    struct {
		White exportPlayer `json:"white"`
		Black exportPlayer `json:"black"`
	} `json:"players"`
}

// ListRecentGames returns up to maxGames most recent games of handle in
// archive order (newest first).
func (c *Client) ListRecentGames(ctx context.Context, handle string, maxGames int) ([]Game, error) {
	if !ValidHandle(handle) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	if maxGames <= 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("max", strconv.Itoa(maxGames))
	q.Set("moves", "true")
	q.Set("tags", "false")
	q.Set("clocks", "false")
	q.Set("evals", "false")
	endpoint := c.base + "/api/games/user/" + url.PathEscape(handle) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/x-ndjson")
	req.Header.Set("User-Agent", c.agent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, handle)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: rate limited", ErrUnavailable)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return c.decode(resp.Body, maxGames)
}

func (c *Client) decode(r io.Reader, limit int) ([]Game, error) {
	games := make([]Game, 0, min(limit, 64))
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for len(games) < limit && sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var eg exportGame
		if err := json.Unmarshal(raw, &eg); err != nil {
			c.log.Warn().Err(err).Int("line", line).Msg("skipping malformed game line")
			continue
		}
		games = append(games, Game{
			ID:          eg.ID,
			Variant:     eg.Variant,
			InitialFEN:  eg.InitialFen,
			Moves:       strings.Fields(eg.Moves),
			White:       eg.Players.White.User.Name,
			Black:       eg.Players.Black.User.Name,
			WhiteRating: eg.Players.White.Rating,
			BlackRating: eg.Players.Black.Rating,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading stream: %v", ErrUnavailable, err)
	}
	return games, nil
}
