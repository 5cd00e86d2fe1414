// Package bayes implements a Redis-backed Bayesian scoring FilterModule:
// OSB (orthogonal sparse bigram) tokenization, per-user token spam/ham
// counters stored as Redis hashes, and Robinson's geometric-mean
// combination of the most significant token probabilities. The module
// implements filtermod.Trainable so the training driver can call
// TrainSpam/TrainHam/UntrainSpam/UntrainHam on it directly.
package bayes

import (
	"context"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/decency/contentfilter/internal/filtermod"
	"github.com/decency/contentfilter/internal/session"
)

var (
	nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// Config configures the bayes Module.
type Config struct {
	RedisURL    string
	KeyPrefix   string
	DatabaseNum int

	OSBWindowSize  int
	MinTokenLength int
	MaxTokenLength int
	MaxTokens      int

	MinLearns int
	TokenTTL  time.Duration

	DefaultUser  string
	PerUserStats bool

	// SpamThreshold is the classification probability (0..1) at or above
	// which the module contributes a negative (more-spammy) score delta.
	SpamThreshold float64
	ScoreWeight   float64

	DisableTrain bool
}

// DefaultConfig returns the bayes Module's default tuning.
func DefaultConfig() Config {
	return Config{
		RedisURL:       "redis://localhost:6379",
		KeyPrefix:      "decency:bayes",
		OSBWindowSize:  2,
		MinTokenLength: 3,
		MaxTokenLength: 32,
		MaxTokens:      1000,
		MinLearns:      10,
		TokenTTL:       90 * 24 * time.Hour,
		DefaultUser:    "_global",
		SpamThreshold:  0.9,
		ScoreWeight:    25.0,
	}
}

// Module is the Bayesian classifier FilterModule.
type Module struct {
	name   string
	cfg    Config
	client *redis.Client
}

func New(name string, cfg Config) (*Module, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("bayes: invalid redis url: %w", err)
	}
	opt.DB = cfg.DatabaseNum
	client := redis.NewClient(opt)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("bayes: redis connection failed: %w", err)
	}

	return &Module{name: name, cfg: cfg, client: client}, nil
}

func (m *Module) Name() string { return m.name }

func (m *Module) DisableTrain() bool { return m.cfg.DisableTrain }

func (m *Module) Handle(ctx context.Context, sess *session.Session) filtermod.Outcome {
	user := m.userFor(sess)
	subject := sess.MIME.HeaderField("Subject")
	body, err := bodyText(sess)
	if err != nil {
		return filtermod.Error(err)
	}

	prob, err := m.classify(ctx, subject, body, user)
	if err != nil {
		return filtermod.Error(err)
	}
	if prob >= m.cfg.SpamThreshold {
		// More-negative means more-spammy; a high spam probability
		// contributes a negative delta.
		sess.AddScore(-m.cfg.ScoreWeight, fmt.Sprintf("%s: p=%.3f", m.name, prob))
	}
	return filtermod.OK()
}

func (m *Module) TrainSpam(ctx context.Context, sess *session.Session) error {
	return m.train(ctx, sess, true)
}

func (m *Module) TrainHam(ctx context.Context, sess *session.Session) error {
	return m.train(ctx, sess, false)
}

func (m *Module) UntrainSpam(ctx context.Context, sess *session.Session) error {
	return m.untrain(ctx, sess, true)
}

func (m *Module) UntrainHam(ctx context.Context, sess *session.Session) error {
	return m.untrain(ctx, sess, false)
}

func (m *Module) userFor(sess *session.Session) string {
	if !m.cfg.PerUserStats || len(sess.To) == 0 {
		return m.cfg.DefaultUser
	}
	return sess.To[0]
}

func (m *Module) train(ctx context.Context, sess *session.Session, isSpam bool) error {
	user := m.userFor(sess)
	subject := sess.MIME.HeaderField("Subject")
	body, err := bodyText(sess)
	if err != nil {
		return err
	}
	return m.adjust(ctx, subject, body, user, isSpam, 1)
}

func (m *Module) untrain(ctx context.Context, sess *session.Session, isSpam bool) error {
	user := m.userFor(sess)
	subject := sess.MIME.HeaderField("Subject")
	body, err := bodyText(sess)
	if err != nil {
		return err
	}
	return m.adjust(ctx, subject, body, user, isSpam, -1)
}

func (m *Module) adjust(ctx context.Context, subject, body, user string, isSpam bool, delta int64) error {
	tokens := generateOSBTokens(subject+" "+body, m.cfg)
	if len(tokens) == 0 {
		return nil
	}

	pipe := m.client.Pipeline()
	userKey := m.userKey(user)
	field := "ham"
	if isSpam {
		field = "spam"
	}

	for _, tok := range tokens {
		tokenKey := m.tokenKey(user, tok)
		pipe.HIncrBy(ctx, tokenKey, field, delta)
		if m.cfg.TokenTTL > 0 {
			pipe.Expire(ctx, tokenKey, m.cfg.TokenTTL)
		}
	}
	if isSpam {
		pipe.HIncrBy(ctx, userKey, "spam_learned", delta)
		pipe.HIncrBy(ctx, userKey, "spam_tokens", delta*int64(len(tokens)))
	} else {
		pipe.HIncrBy(ctx, userKey, "ham_learned", delta)
		pipe.HIncrBy(ctx, userKey, "ham_tokens", delta*int64(len(tokens)))
	}
	pipe.HSet(ctx, userKey, "last_trained", time.Now().Unix())

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bayes: train: %w", err)
	}
	return nil
}

type userStats struct {
	SpamLearned int64
	HamLearned  int64
	SpamTokens  int64
	HamTokens   int64
}

func (m *Module) getUserStats(ctx context.Context, user string) (userStats, error) {
	vals, err := m.client.HGetAll(ctx, m.userKey(user)).Result()
	if err != nil {
		return userStats{}, fmt.Errorf("bayes: get user stats: %w", err)
	}
	get := func(k string) int64 {
		n, _ := strconv.ParseInt(vals[k], 10, 64)
		return n
	}
	return userStats{
		SpamLearned: get("spam_learned"),
		HamLearned:  get("ham_learned"),
		SpamTokens:  get("spam_tokens"),
		HamTokens:   get("ham_tokens"),
	}, nil
}

func (m *Module) classify(ctx context.Context, subject, body, user string) (float64, error) {
	stats, err := m.getUserStats(ctx, user)
	if err != nil {
		return 0.5, err
	}
	if stats.SpamLearned < int64(m.cfg.MinLearns) || stats.HamLearned < int64(m.cfg.MinLearns) {
		return 0.5, nil
	}

	tokens := generateOSBTokens(subject+" "+body, m.cfg)
	if len(tokens) == 0 {
		return 0.5, nil
	}

	pipe := m.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	for i, tok := range tokens {
		cmds[i] = pipe.HGetAll(ctx, m.tokenKey(user, tok))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0.5, fmt.Errorf("bayes: classify: %w", err)
	}

	var probs []float64
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		spamCount, _ := strconv.ParseInt(vals["spam"], 10, 64)
		hamCount, _ := strconv.ParseInt(vals["ham"], 10, 64)
		if spamCount == 0 && hamCount == 0 {
			continue
		}
		spamProb := float64(spamCount+1) / float64(stats.SpamTokens+2)
		hamProb := float64(hamCount+1) / float64(stats.HamTokens+2)
		spaminess := spamProb / (spamProb + hamProb)
		if math.Abs(spaminess-0.5) > 0.1 {
			probs = append(probs, spaminess)
		}
	}
	if len(probs) == 0 {
		return 0.5, nil
	}

	sort.Float64s(probs)
	const maxProbs = 15
	if len(probs) > maxProbs {
		half := maxProbs / 2
		probs = append(append([]float64(nil), probs[:half]...), probs[len(probs)-half:]...)
	}

	spamProduct, hamProduct := 1.0, 1.0
	for _, p := range probs {
		spamProduct *= p
		hamProduct *= 1.0 - p
	}
	n := float64(len(probs))
	spamGeom := math.Pow(spamProduct, 1.0/n)
	hamGeom := math.Pow(hamProduct, 1.0/n)

	return spamGeom / (spamGeom + hamGeom), nil
}

func (m *Module) userKey(user string) string {
	return fmt.Sprintf("%s:user:%s", m.cfg.KeyPrefix, user)
}

func (m *Module) tokenKey(user, token string) string {
	return fmt.Sprintf("%s:token:%s:%s", m.cfg.KeyPrefix, user, token)
}

func (m *Module) Close() error { return m.client.Close() }

func generateOSBTokens(text string, cfg Config) []string {
	text = strings.ToLower(text)
	text = nonWordRe.ReplaceAllString(text, " ")
	words := spaceRe.Split(strings.TrimSpace(text), -1)

	var tokens []string
	for _, w := range words {
		if len(w) >= cfg.MinTokenLength && len(w) <= cfg.MaxTokenLength {
			tokens = append(tokens, w)
		}
	}
	for i := 0; i < len(words); i++ {
		for j := i + 1; j < len(words) && j <= i+cfg.OSBWindowSize; j++ {
			w1, w2 := words[i], words[j]
			if len(w1) >= cfg.MinTokenLength && len(w2) >= cfg.MinTokenLength {
				tokens = append(tokens, fmt.Sprintf("%s|%s|%d", w1, w2, j-i))
			}
		}
	}
	if len(tokens) > cfg.MaxTokens {
		tokens = tokens[:cfg.MaxTokens]
	}
	return tokens
}

const maxBodyScanBytes = 256 * 1024

func bodyText(sess *session.Session) (string, error) {
	rc, err := sess.MIME.Body()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxBodyScanBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
