package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/config"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/names"
)

// withStorage loads the storage settings and hands a ready engine to run.
func withStorage(run func(service *names.Service, logger *zap.Logger) error) error {
	appConfig, err := config.LoadStorage(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	service, closeDB, err := openStorage(appConfig, nil, nil, logger)
	if err != nil {
		return err
	}
	defer closeDB()
	return run(service, logger)
}

func newSeedCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed [fragment...]",
		Short: "Load approved fragments from arguments or a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			texts := append([]string{}, args...)
			if file != "" {
				handle, err := os.Open(file)
				if err != nil {
					return err
				}
				defer handle.Close()
				fromFile, err := readSeedTexts(handle)
				if err != nil {
					return err
				}
				texts = append(texts, fromFile...)
			}
			if len(texts) == 0 {
				return fmt.Errorf("no fragments given")
			}
			return withStorage(func(service *names.Service, logger *zap.Logger) error {
				created, err := service.SeedFragments(cmd.Context(), texts)
				if err != nil {
					return err
				}
				logger.Info("fragments seeded", zap.Int("created", created), zap.Int("given", len(texts)))
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d of %d fragments\n", created, len(texts))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "File with one fragment per line")
	return cmd
}

// readSeedTexts returns one fragment per non-blank line, skipping # comments.
func readSeedTexts(reader io.Reader) ([]string, error) {
	var texts []string
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		texts = append(texts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return texts, nil
}

func newPurgeCommand() *cobra.Command {
	var (
		kind string
		id   int64
		text string
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete a fragment or composite by id, or a fragment text with its composites",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id <= 0 && strings.TrimSpace(text) == "" {
				return fmt.Errorf("either --id or --text is required")
			}
			return withStorage(func(service *names.Service, logger *zap.Logger) error {
				ctx := cmd.Context()
				if id <= 0 {
					result, err := service.PurgeText(ctx, text)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "purged %d fragments and %d composites\n", result.Fragments, result.Composites)
					return nil
				}
				var err error
				switch names.EntityKind(strings.ToLower(kind)) {
				case names.EntityFragment:
					err = service.PurgeFragment(ctx, id)
				case names.EntityComposite:
					err = service.PurgeComposite(ctx, id)
				default:
					return fmt.Errorf("unknown kind %q", kind)
				}
				if err != nil {
					return err
				}
				logger.Info("entity purged", zap.String("kind", kind), zap.Int64("id", id))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(names.EntityComposite), "Entity kind (fragment, composite)")
	cmd.Flags().Int64Var(&id, "id", 0, "Entity id")
	cmd.Flags().StringVar(&text, "text", "", "Fragment text to purge together with its composites")
	return cmd
}

func newDumpCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Export every fragment and composite",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(func(service *names.Service, logger *zap.Logger) error {
				dump, err := service.Dump(cmd.Context())
				if err != nil {
					return err
				}
				return writeDump(cmd.OutOrStdout(), dump, format)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format (yaml, json)")
	return cmd
}

func writeDump(writer io.Writer, dump names.CorpusDump, format string) error {
	switch strings.ToLower(format) {
	case "yaml":
		encoder := yaml.NewEncoder(writer)
		encoder.SetIndent(2)
		if err := encoder.Encode(dump); err != nil {
			return err
		}
		return encoder.Close()
	case "json":
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(dump)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
