// Package catalog maintains the MITRE ATT&CK technique reference table the
// reconciliation engine resolves codes against.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/intelwatch/ttpmon/pkg/models"
	"github.com/intelwatch/ttpmon/pkg/store"
)

const (
	// legacyBundleURL is the original MITRE CTI bundle, kept as the first
	// sync phase so installs predating the STIX dataset still seed the same
	// baseline rows.
	legacyBundleURL = "https://raw.githubusercontent.com/mitre/cti/master/enterprise-attack/enterprise-attack.json"

	// stixBundleURL is the maintained STIX 2.1 dataset used to refresh
	// names, tactics and descriptions.
	stixBundleURL = "https://raw.githubusercontent.com/mitre-attack/attack-stix-data/master/enterprise-attack/enterprise-attack.json"

	legacyFetchTimeout = 60 * time.Second
	stixFetchTimeout   = 30 * time.Second
)

// Syncer downloads ATT&CK bundles and reconciles them into the techniques
// table.
type Syncer struct {
	store      *store.Store
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSyncer creates a catalog syncer.
func NewSyncer(st *store.Store) *Syncer {
	if st == nil {
		panic("catalog.NewSyncer: store must not be nil")
	}
	return &Syncer{
		store:      st,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
}

// attackPattern is the subset of a STIX attack-pattern object the catalog
// reads.
type attackPattern struct {
	Type               string              `json:"type"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	ExternalReferences []externalReference `json:"external_references"`
	KillChainPhases    []killChainPhase    `json:"kill_chain_phases"`
}

type externalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
}

type killChainPhase struct {
	KillChainName string `json:"kill_chain_name"`
	PhaseName     string `json:"phase_name"`
}

type bundle struct {
	Objects []attackPattern `json:"objects"`
}

// LoadResult summarizes a legacy baseline load.
type LoadResult struct {
	Created int `json:"created"`
	Total   int `json:"total"`
}

// SyncResult summarizes a STIX refresh.
type SyncResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// LoadLegacy seeds the catalog from the legacy CTI bundle. Rows are
// create-only: codes already present keep their stored name and tactic.
func (s *Syncer) LoadLegacy(ctx context.Context) (LoadResult, error) {
	var result LoadResult

	s.logger.Info("Downloading legacy ATT&CK bundle", "url", legacyBundleURL)
	b, err := s.fetchBundle(ctx, legacyBundleURL, legacyFetchTimeout)
	if err != nil {
		return result, err
	}

	for _, obj := range b.Objects {
		if obj.Type != "attack-pattern" {
			continue
		}

		// The legacy bundle occasionally repeats the mitre-attack reference;
		// the last occurrence wins, matching the dataset's historical import.
		var code string
		for _, ref := range obj.ExternalReferences {
			if ref.SourceName == "mitre-attack" {
				code = ref.ExternalID
			}
		}
		if code == "" {
			continue
		}

		name := obj.Name
		if name == "" {
			name = "unknown"
		}
		var tactic string
		if len(obj.KillChainPhases) > 0 {
			tactic = obj.KillChainPhases[0].PhaseName
		}

		result.Total++
		created, err := s.store.CreateTechniqueIfAbsent(ctx, code, name, tactic)
		if err != nil {
			return result, fmt.Errorf("seed technique %s: %w", code, err)
		}
		if created {
			result.Created++
		}
	}

	s.logger.Info("Legacy ATT&CK bundle loaded", "created", result.Created, "total", result.Total)
	return result, nil
}

// SyncSTIX refreshes the catalog from the maintained STIX dataset, creating
// missing techniques and overwriting name, tactics and description on
// existing ones. No rows are ever removed: a code that drops out of the
// bundle stays resolvable for historical presence rows.
func (s *Syncer) SyncSTIX(ctx context.Context) (SyncResult, error) {
	var result SyncResult

	s.logger.Info("Downloading STIX ATT&CK bundle", "url", stixBundleURL)
	b, err := s.fetchBundle(ctx, stixBundleURL, stixFetchTimeout)
	if err != nil {
		return result, err
	}

	for _, obj := range b.Objects {
		if obj.Type != "attack-pattern" {
			continue
		}

		var code string
		for _, ref := range obj.ExternalReferences {
			if ref.SourceName == "mitre-attack" && ref.ExternalID != "" {
				code = ref.ExternalID
				break
			}
		}
		if code == "" {
			continue
		}

		created, err := s.store.UpsertTechnique(ctx, models.Technique{
			Code:        code,
			Name:        obj.Name,
			Tactics:     joinTactics(obj.KillChainPhases),
			Description: obj.Description,
		})
		if err != nil {
			return result, fmt.Errorf("upsert technique %s: %w", code, err)
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	s.logger.Info("STIX ATT&CK bundle synced", "created", result.Created, "updated", result.Updated)
	return result, nil
}

// joinTactics collapses the mitre-attack kill chain phases into the
// catalog's comma-joined, sorted tactics string.
func joinTactics(phases []killChainPhase) string {
	seen := make(map[string]struct{})
	var tactics []string
	for _, p := range phases {
		if p.KillChainName != "mitre-attack" || p.PhaseName == "" {
			continue
		}
		if _, ok := seen[p.PhaseName]; ok {
			continue
		}
		seen[p.PhaseName] = struct{}{}
		tactics = append(tactics, p.PhaseName)
	}
	sort.Strings(tactics)
	return strings.Join(tactics, ",")
}

func (s *Syncer) fetchBundle(ctx context.Context, rawURL string, timeout time.Duration) (*bundle, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bundle from %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bundle host returned HTTP %d for %s", resp.StatusCode, rawURL)
	}

	var b bundle
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return &b, nil
}
