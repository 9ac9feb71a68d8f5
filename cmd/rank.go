package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ranklab/internal/model"
	"github.com/sells-group/ranklab/internal/quota"
)

var (
	rankFile string
	rankWeb  bool
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Run a one-shot ranking from a request file",
	Long:  "Reads candidates and metrics from a YAML or JSON file, scores them through Claude, and prints the ranked result as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := loadRankRequest(rankFile)
		if err != nil {
			return err
		}
		if rankWeb {
			req.UseWebSearch = true
		}

		gate := buildGate(cfg)
		svc, err := buildService(cfg, gate)
		if err != nil {
			return err
		}

		// One-shot invocations count as a single authenticated local caller.
		id := quota.Identity{Kind: quota.KindAuthenticated, ID: "cli"}
		result, err := svc.Rank(cmd.Context(), *req, id)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// loadRankRequest reads a request file; .yaml/.yml parses as YAML, anything
// else as JSON.
func loadRankRequest(path string) (*model.RankRequest, error) {
	if path == "" {
		return nil, eris.New("rank: -f request file is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "rank: read request file")
	}

	var req model.RankRequest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &req); err != nil {
			return nil, eris.Wrap(err, "rank: parse YAML request")
		}
	default:
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, eris.Wrap(err, "rank: parse JSON request")
		}
	}

	return &req, nil
}

func init() {
	rankCmd.Flags().StringVarP(&rankFile, "file", "f", "", "request file (YAML or JSON)")
	rankCmd.Flags().BoolVar(&rankWeb, "web", false, "enable web-augmented evaluation")
	rootCmd.AddCommand(rankCmd)
}
