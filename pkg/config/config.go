// Package config loads the YAML configuration shared by every command, with
// environment overrides read after an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/WessleyAI/textbook-rag/pkg/rerank"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Collection maps a collection name to its source document.
type Collection struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
}

type ChunkConfig struct {
	MinContent int `yaml:"min_content"`
}

type ExtractConfig struct {
	SkipPages int `yaml:"skip_pages"`
}

type RetrievalConfig struct {
	TopK        int `yaml:"top_k"`
	TopM        int `yaml:"top_m"`
	Parallelism int `yaml:"parallelism"`
}

type RerankConfig struct {
	URL            string  `yaml:"url"`
	Model          string  `yaml:"model"`
	ScoreDirection string  `yaml:"score_direction"`
	RPS            float64 `yaml:"rps"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir"`
	QdrantAddr string `yaml:"qdrant_addr"`
}

type EmbedConfig struct {
	Provider string  `yaml:"provider"`
	URL      string  `yaml:"url"`
	Model    string  `yaml:"model"`
	Token    string  `yaml:"token"`
	RPS      float64 `yaml:"rps"`
}

type ServerConfig struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type Neo4jConfig struct {
	URL  string `yaml:"url"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

// Config is the root configuration.
type Config struct {
	Collections []Collection    `yaml:"collections"`
	Chunk       ChunkConfig     `yaml:"chunk"`
	Extract     ExtractConfig   `yaml:"extract"`
	Retrieval   RetrievalConfig `yaml:"retrieval"`
	Rerank      RerankConfig    `yaml:"rerank"`
	Store       StoreConfig     `yaml:"store"`
	Embed       EmbedConfig     `yaml:"embed"`
	Server      ServerConfig    `yaml:"server"`
	NATS        NATSConfig      `yaml:"nats"`
	Neo4j       Neo4jConfig     `yaml:"neo4j"`
}

// Store backends.
const (
	BackendBadger = "badger"
	BackendQdrant = "qdrant"
)

// Embedding providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Chunk:     ChunkConfig{MinContent: 50},
		Extract:   ExtractConfig{SkipPages: 10},
		Retrieval: RetrievalConfig{TopK: 5, TopM: 3, Parallelism: 4},
		Rerank:    RerankConfig{ScoreDirection: rerank.HigherIsBetter.String(), RPS: 10},
		Store:     StoreConfig{Backend: BackendBadger, Dir: "data/vectors", QdrantAddr: "localhost:6334"},
		Embed:     EmbedConfig{Provider: ProviderOllama, URL: "http://localhost:11434", Model: "nomic-embed-text", RPS: 20},
		Server:    ServerConfig{Port: "8080", CORSOrigin: "*"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides. A .env file in the working directory is loaded
// first when present; variables already set win over it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = envOr("PORT", c.Server.Port)
	c.Server.CORSOrigin = envOr("CORS_ORIGIN", c.Server.CORSOrigin)
	c.Store.Backend = envOr("STORE_BACKEND", c.Store.Backend)
	c.Store.Dir = envOr("STORE_DIR", c.Store.Dir)
	c.Store.QdrantAddr = envOr("QDRANT_ADDR", c.Store.QdrantAddr)
	c.Embed.Provider = envOr("EMBED_PROVIDER", c.Embed.Provider)
	c.Embed.URL = envOr("EMBED_URL", c.Embed.URL)
	c.Embed.Model = envOr("EMBED_MODEL", c.Embed.Model)
	c.Embed.Token = envOr("EMBED_TOKEN", c.Embed.Token)
	c.Rerank.URL = envOr("RERANK_URL", c.Rerank.URL)
	c.Rerank.Model = envOr("RERANK_MODEL", c.Rerank.Model)
	c.Rerank.ScoreDirection = envOr("RERANK_SCORE_DIRECTION", c.Rerank.ScoreDirection)
	c.NATS.URL = envOr("NATS_URL", c.NATS.URL)
	c.Neo4j.URL = envOr("NEO4J_URL", c.Neo4j.URL)
	c.Neo4j.User = envOr("NEO4J_USER", c.Neo4j.User)
	c.Neo4j.Pass = envOr("NEO4J_PASS", c.Neo4j.Pass)

	var err error
	if c.Chunk.MinContent, err = envInt("CHUNK_MIN_CONTENT", c.Chunk.MinContent); err != nil {
		return err
	}
	if c.Extract.SkipPages, err = envInt("EXTRACT_SKIP_PAGES", c.Extract.SkipPages); err != nil {
		return err
	}
	if c.Retrieval.TopK, err = envInt("RETRIEVAL_TOP_K", c.Retrieval.TopK); err != nil {
		return err
	}
	if c.Retrieval.TopM, err = envInt("RETRIEVAL_TOP_M", c.Retrieval.TopM); err != nil {
		return err
	}
	return nil
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Chunk.MinContent < 0 {
		errs = append(errs, errors.New("chunk.min_content must be >= 0"))
	}
	if c.Extract.SkipPages < 0 {
		errs = append(errs, errors.New("extract.skip_pages must be >= 0"))
	}
	if c.Retrieval.TopK <= 0 || c.Retrieval.TopM <= 0 {
		errs = append(errs, errors.New("retrieval.top_k and retrieval.top_m must be > 0"))
	}
	if _, err := rerank.ParseDirection(c.Rerank.ScoreDirection); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Backend {
	case BackendBadger:
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for the badger backend"))
		}
	case BackendQdrant:
		if c.Store.QdrantAddr == "" {
			errs = append(errs, errors.New("store.qdrant_addr is required for the qdrant backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of badger, qdrant", c.Store.Backend))
	}
	switch c.Embed.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("embed.provider %q is not one of ollama, openai", c.Embed.Provider))
	}
	if c.Embed.Model == "" {
		errs = append(errs, errors.New("embed.model is required"))
	}
	seen := make(map[string]bool, len(c.Collections))
	for i, col := range c.Collections {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("collections[%d]: name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("collections[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ScoreDirection returns the parsed reranker score direction.
func (c *Config) ScoreDirection() rerank.Direction {
	d, _ := rerank.ParseDirection(c.Rerank.ScoreDirection)
	return d
}

// CollectionNames returns the configured collection names in order.
func (c *Config) CollectionNames() []string {
	names := make([]string, len(c.Collections))
	for i, col := range c.Collections {
		names[i] = col.Name
	}
	return names
}
