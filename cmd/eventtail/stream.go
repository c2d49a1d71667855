package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	realtime "github.com/kitaflow/realtime-go-sdk"
	"github.com/kitaflow/realtime-go-sdk/api"
	"github.com/kitaflow/realtime-go-sdk/cache/redisstore"
	"github.com/kitaflow/realtime-go-sdk/util"
)

var (
	configPath string
	token      string
	jsonOutput bool
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Connect to the events endpoint and log what arrives",
	Long: `Connect to the events endpoint described by the config file and log
every event together with the cache invalidations it triggers.

With a redis section in the config file, invalidations are applied to the
shared Redis cache instead of only being logged.

Examples:
  eventtail stream --config realtime.yaml
  REALTIME_TOKEN=... eventtail stream -c realtime.yaml`,
	RunE: runStream,
}

func init() {
	streamCmd.Flags().StringVarP(&configPath, "config", "c", "realtime.yaml", "Path to the YAML config file")
	streamCmd.Flags().StringVar(&token, "token", "", "Bearer token (default $REALTIME_TOKEN)")
	streamCmd.Flags().BoolVar(&jsonOutput, "json", false, "Write client events to stdout as JSON lines")
	rootCmd.AddCommand(streamCmd)
}

func runStream(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cache realtime.Cache = loggingCache()
	if cfg.Redis != nil {
		store, err := redisstore.New(ctx, *cfg.Redis)
		if err != nil {
			return err
		}
		defer store.Close()
		cache = store
	}

	options := cfg.options()
	events := make(chan api.ClientEvent, 100)
	options.ClientEventHandler = events

	session, closeSession, err := newSession(cfg, options)
	if err != nil {
		return err
	}
	defer closeSession()

	client, err := realtime.NewClient(cfg.BaseURL, cache, session, options)
	if err != nil {
		return err
	}
	defer client.Close()

	util.Infof("Streaming %s (client %s)", cfg.BaseURL, client.Stream().ClientID())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-events:
			if !jsonOutput {
				logClientEvent(event)
			} else if err := writeEventJSON(cmd.OutOrStdout(), event); err != nil {
				util.Warnf("Failed to encode %s event: %s", event.EventType, err)
			}
		}
	}
}

func newSession(cfg *Config, options *realtime.Options) (realtime.SessionProvider, func(), error) {
	if cfg.SessionCookie != "" {
		manager := realtime.NewSessionManager(cfg.BaseURL, options)
		manager.AddDefaultHeader("Cookie", cfg.SessionCookie)
		if err := manager.Initialize(); err != nil {
			return nil, nil, err
		}
		return manager, manager.Close, nil
	}

	bearer := token
	if bearer == "" {
		bearer = os.Getenv("REALTIME_TOKEN")
	}
	if bearer == "" {
		bearer = cfg.Token
	}
	if bearer == "" {
		return nil, nil, fmt.Errorf("no token: pass --token, set REALTIME_TOKEN or configure session_cookie")
	}
	return realtime.NewStaticSession(api.SessionStatus_Authenticated, bearer), func() {}, nil
}

func loggingCache() realtime.CacheFuncs {
	return realtime.CacheFuncs{
		InvalidateFunc: func(key string) {
			util.Infof("Invalidate %s", key)
		},
		InvalidateMatchingFunc: func(match func(key string) bool) {
			util.Infof("Invalidate matching keys")
		},
	}
}

// eventRecord is the JSON line written for a client event in --json mode.
type eventRecord struct {
	Type   api.ClientEventType `json:"type"`
	Data   any                 `json:"data,omitempty"`
	Status string              `json:"status,omitempty"`
	Error  string              `json:"error,omitempty"`
}

func writeEventJSON(w io.Writer, event api.ClientEvent) error {
	record := eventRecord{Type: event.EventType, Data: event.EventData, Status: event.Status}
	if event.Error != nil {
		record.Error = event.Error.Error()
	}
	data, err := util.Encode(record)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func logClientEvent(event api.ClientEvent) {
	switch event.EventType {
	case api.ClientEventType_RealtimeUpdates:
		if e, ok := event.EventData.(api.IncomingEvent); ok {
			util.Infof("Event %s group=%s student=%s", e.Type, e.ActiveGroupID, e.Data.StudentID)
		}
	case api.ClientEventType_CacheInvalidated:
		if s, ok := event.EventData.(api.InvalidationSummary); ok {
			util.Infof("Invalidated groups=%v students=%v activities=%t", s.GroupIDs, s.StudentIDs, s.ActivitiesTouched)
		}
	default:
		if event.Error != nil {
			util.Warnf("%s: %s", event.EventType, event.Error)
			return
		}
		util.Infof("%s: %v", event.EventType, event.EventData)
	}
}
