package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rickgao/btse-feed/internal/config"
	"github.com/rickgao/btse-feed/internal/connection"
)

var topicsConfigPath string

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List subscribable topics and their feed channels",
	Args:  cobra.NoArgs,
	RunE:  runTopics,
}

func init() {
	topicsCmd.Flags().StringVarP(&topicsConfigPath, "config", "c", "", "path to config file (built-in defaults if empty)")
}

func runTopics(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if topicsConfigPath != "" {
		var err error
		if cfg, err = config.LoadAndValidate(topicsConfigPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	topics, err := buildTopics(cfg.Subscriptions)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOPIC\tCHANNEL")
	for _, topic := range topics.List() {
		channel, _ := topics.Channel(topic)
		fmt.Fprintf(w, "%s\t%s\n", topic, channel)
	}
	return w.Flush()
}

// loadConfig reads path with defaults applied, or returns the built-in
// defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadWithDefaults(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildTopics converts the subscriptions section into the topic registry.
func buildTopics(subs map[string]string) (*connection.Topics, error) {
	channels := make(map[connection.Topic]string, len(subs))
	for topic, channel := range subs {
		channels[connection.Topic(topic)] = channel
	}
	topics, err := connection.NewTopics(channels)
	if err != nil {
		return nil, fmt.Errorf("build topics: %w", err)
	}
	return topics, nil
}
