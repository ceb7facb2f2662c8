package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sudorandom/floortrack/pkg/floorplan"
	"github.com/sudorandom/floortrack/pkg/hass"
	"github.com/sudorandom/floortrack/pkg/scene"
	"github.com/sudorandom/floortrack/pkg/tracking"
	"github.com/sudorandom/floortrack/pkg/transform"
	"github.com/sudorandom/floortrack/pkg/utils"
	"github.com/sudorandom/floortrack/pkg/viewer"
)

type Config struct {
	Hass struct {
		URL     string `mapstructure:"url"`
		Token   string `mapstructure:"token"`
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"hass"`
	Floorplan string `mapstructure:"floorplan"`
	DataDir   string `mapstructure:"data_dir"`
	Window    struct {
		Width  int `mapstructure:"width"`
		Height int `mapstructure:"height"`
	} `mapstructure:"window"`
	Confidence struct {
		Minimum          float64 `mapstructure:"minimum"`
		DisplayThreshold float64 `mapstructure:"display_threshold"`
	} `mapstructure:"confidence"`
	Stale struct {
		WarningMinutes float64 `mapstructure:"warning_minutes"`
		TimeoutMinutes float64 `mapstructure:"timeout_minutes"`
	} `mapstructure:"stale"`
	Debug struct {
		Overlay string `mapstructure:"overlay"`
	} `mapstructure:"debug"`
}

func main() {
	var err error
	var configFile string
	var config Config

	rootCmd := &cobra.Command{
		Use:   "floortrack",
		Short: "Live device locations on a floorplan",
		Run: func(c *cobra.Command, args []string) {
			if err := run(config); err != nil {
				log.Fatalf("Failed on start: %v", err)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.json", "Path to configuration")

	// Default Values
	viper.SetDefault("hass.url", "ws://localhost:8123/api/websocket")
	viper.SetDefault("data_dir", "data")
	viper.SetDefault("window.width", 1280)
	viper.SetDefault("window.height", 800)
	viper.SetDefault("confidence.minimum", tracking.DefaultMinConfidence)
	viper.SetDefault("confidence.display_threshold", 0)
	viper.SetDefault("stale.warning_minutes", 10)
	viper.SetDefault("stale.timeout_minutes", 60)
	viper.SetDefault("debug.overlay", "")

	// Read Configuration File Before Start
	cobra.OnInitialize(func() {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			envConfFile := os.Getenv("CONFIG_FILE")
			if envConfFile == "" {
				log.Printf("Config file %s does not exist, using defaults", configFile)
				if err := viper.Unmarshal(&config); err != nil {
					log.Fatalf("Failed to parse defaults: %v", err)
				}
				return
			}
			configFile = envConfFile
		}

		viper.SetConfigFile(configFile)
		viper.SetConfigType("json")
		if err := viper.ReadInConfig(); err != nil {
			log.Fatalf("Failed to read config: %v", err)
		}
		if err := viper.Unmarshal(&config); err != nil {
			log.Fatalf("Failed to parse config: %v", err)
		}
		log.Printf("Loaded config file: %s", configFile)
	})

	err = rootCmd.Execute()
	if err != nil {
		log.Fatal(err)
	}
}

func run(cfg Config) error {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	floor := floorplan.Default()
	if cfg.Floorplan != "" {
		f, err := floorplan.Load(cfg.Floorplan)
		if err != nil {
			return err
		}
		floor = f
	}
	base := floor.BaseViewBox()
	container := scene.NewContainer(buildSceneRoot(floor, base))

	locations := tracking.NewLocationStore()
	metadata := tracking.NewMetadataStore()

	// Persisted metadata keeps names and avatars across restarts, before
	// the first snapshot lands.
	metaStore, err := utils.OpenMetaStore(filepath.Join(cfg.DataDir, "meta.db"))
	if err != nil {
		log.Printf("[main] Metadata store unavailable: %v", err)
	} else {
		defer metaStore.Close()
		if saved, err := metaStore.All(); err == nil {
			for id, m := range saved {
				metadata.Upsert(id, m)
			}
			log.Printf("[main] Restored metadata for %d trackers", len(saved))
		}
		metadata.OnChange(func() {
			if err := metaStore.PutAll(metadata.Snapshot()); err != nil {
				log.Printf("[main] Failed to persist metadata: %v", err)
			}
		})
	}

	resolver := tracking.NewResolver(locations, metadata, cfg.Hass.BaseURL, cfg.Hass.URL)

	client := hass.NewClient(cfg.Hass.URL, cfg.Hass.Token)
	ctx := context.Background()
	if err := resolver.Seed(ctx, client, cfg.Confidence.Minimum); err != nil {
		// The live stream reconnects on its own; a failed snapshot only
		// delays the first markers.
		log.Printf("[main] Initial snapshot failed: %v", err)
	}

	trk := tracking.NewTracker(client, resolver, cfg.Confidence.Minimum)
	trk.Start(ctx)
	defer trk.Stop()

	v := viewer.New(floor, container, cfg.Window.Width, cfg.Window.Height,
		filepath.Join(cfg.DataDir, "avatars"))
	engine := scene.NewEngine(container, locations, metadata, resolver.Allowed, base,
		v.PixelsPerUnit, scene.Config{
			StaleWarning:      scene.ThresholdFromMinutes(cfg.Stale.WarningMinutes, scene.DefaultStaleWarning),
			StaleTimeout:      scene.ThresholdFromMinutes(cfg.Stale.TimeoutMinutes, scene.DefaultStaleTimeout),
			ConfidenceDisplay: cfg.Confidence.DisplayThreshold,
			DebugOverlay:      cfg.Debug.Overlay,
		})
	defer engine.Stop()
	v.SetEngine(engine)

	ebiten.SetWindowSize(cfg.Window.Width, cfg.Window.Height)
	ebiten.SetWindowTitle("floortrack: " + floor.Name)
	return ebiten.RunGame(v)
}

// buildSceneRoot populates the scene graph with the floor's rooms and any
// authored static markers; the reconciliation engine adds tracked markers
// on top.
func buildSceneRoot(floor *floorplan.Floor, base transform.ViewBox) *scene.Node {
	flip := transform.FlipY(base)
	root := scene.NewNode(scene.KindGroup)
	for _, room := range floor.Rooms {
		rn := scene.NewNode(scene.KindRoom)
		rn.Text = room.Name
		root.AppendChild(rn)
	}
	for _, m := range floor.Markers {
		mn := scene.NewNode(scene.KindMarker)
		mn.SetAttr(scene.AttrDevice, m.Device)
		mn.Text = m.Label
		mn.SetTransform(scene.FormatTranslate(m.X, flip(m.Y)))
		root.AppendChild(mn)
	}
	return root
}
