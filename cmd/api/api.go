package main

// The purpose of this application is to accept API requests that name video
// files under the server root.  Each file can be probed for the name it would
// get, or renamed to "<epoch> <name>" using the creation date in its metadata.

// Necessary functions:
// GET /version - return the API version
// GET /status - return a status of the API, including number of journaled renames
// POST /probe - compute the new name of a file without touching it
// POST /rename - rename a file (or only report, with dry_run)

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/wezm/mkv-rename/internal/logging"
	"github.com/wezm/mkv-rename/internal/metadata"
	"github.com/wezm/mkv-rename/internal/sortengine"
)

var (
	Version string = "dev"
)

// Entries from the journal reported by /status, newest first.
const recentRenames = 10

type Status struct {
	Status  string                    `json:"status"`
	Renamed uint64                    `json:"renamed"`
	Journal int                       `json:"journal"`
	Recent  []sortengine.JournalEntry `json:"recent,omitempty"`
}

type FileRequest struct {
	Path   string `json:"path" binding:"required"`
	DryRun bool   `json:"dry_run"`
}

type server struct {
	engine  *sortengine.Engine
	root    string
	renamed atomic.Uint64
}

// statusFor maps an error kind to the HTTP status reported for it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sortengine.ErrOutsideRoot):
		return http.StatusBadRequest
	case errors.Is(err, metadata.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, metadata.ErrMalformedContainer), errors.Is(err, metadata.ErrTimestampNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sortengine.ErrRenameFailed):
		return http.StatusConflict
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func failed(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"status": "failed", "reason": err.Error()})
}

func (s *server) giveVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": Version})
}

func (s *server) giveStatus(c *gin.Context) {
	status := Status{Status: "ok", Renamed: s.renamed.Load()}
	if s.engine.DB != nil {
		count, err := s.engine.DB.Count()
		if err != nil {
			failed(c, err)
			return
		}
		status.Journal = count
		recent, err := s.engine.DB.History(recentRenames)
		if err != nil {
			failed(c, err)
			return
		}
		status.Recent = recent
	}
	c.IndentedJSON(http.StatusOK, status)
}

func (s *server) plan(c *gin.Context) (*FileRequest, *sortengine.RenamePlan, bool) {
	var req FileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "failed", "reason": err.Error()})
		return nil, nil, false
	}
	path, err := sortengine.ResolveWithin(s.root, req.Path)
	if err != nil {
		failed(c, err)
		return nil, nil, false
	}
	plan, err := s.engine.Plan(path)
	if err != nil {
		failed(c, err)
		return nil, nil, false
	}
	return &req, plan, true
}

func (s *server) probeFile(c *gin.Context) {
	_, plan, ok := s.plan(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "planned", "plan": plan})
}

func (s *server) renameFile(c *gin.Context) {
	req, plan, ok := s.plan(c)
	if !ok {
		return
	}
	if plan.Unchanged() {
		c.JSON(http.StatusOK, gin.H{"status": "unchanged", "plan": plan})
		return
	}
	if req.DryRun || s.engine.Config.DryRun {
		c.JSON(http.StatusOK, gin.H{"status": "planned", "plan": plan})
		return
	}
	if err := s.engine.Apply(plan); err != nil {
		s.engine.Log.Error("Error processing %s: %v", plan.From, err)
		failed(c, err)
		return
	}

	s.engine.Log.Info("%s -> %s", plan.From, plan.To)
	s.renamed.Add(1)
	c.JSON(http.StatusOK, gin.H{"status": "renamed", "plan": plan})
}

func newRouter(s *server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if s.engine.Log.Verbose() {
		router.Use(gin.Logger())
	}
	router.GET("/version", s.giveVersion)
	router.GET("/status", s.giveStatus)
	router.POST("/probe", s.probeFile)
	router.POST("/rename", s.renameFile)
	return router
}

func printVersion() {
	fmt.Printf("mkv-rename API Version: %s\n", Version)
}

func checkRoot(root string) error {
	fileInfo, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !fileInfo.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}
	return nil
}

func main() {
	printVersion()

	flags := &sortengine.ConfigFlags{}
	pflag.StringVarP(&flags.ConfigFile, "config", "c", "", "Path to config file (default: ~/.mkv-rename.yml)")
	pflag.StringVar(&flags.JournalFile, "journal", "", "Journal database file (overrides config)")
	pflag.StringVar(&flags.Root, "root", "", "Directory requests are confined to (overrides config)")
	pflag.StringVar(&flags.IP, "ip", "", "IP address to bind to (overrides config)")
	pflag.IntVar(&flags.Port, "port", 0, "Port to listen on (overrides config)")
	pflag.Float64VarP(&flags.TzOffset, "tz-offset", "t", 0, "Hours added to every timestamp")
	pflag.BoolVarP(&flags.DryRun, "dry-run", "n", false, "Never rename, only report")
	pflag.BoolVar(&flags.Exiftool, "exiftool", false, "Ask exiftool when a file has no creation date")
	pflag.BoolVarP(&flags.Verbose, "verbose", "v", false, "Log every request")
	pflag.BoolVar(&flags.InitConfig, "init", false, "Create default config file and exit")
	pflag.Parse()
	flags.TzOffsetSet = pflag.CommandLine.Changed("tz-offset")

	if flags.InitConfig {
		configPath := flags.ConfigFile
		if configPath == "" {
			var err error
			configPath, err = sortengine.GetDefaultConfigPath()
			if err != nil {
				fmt.Printf("Error getting default config path: %s\n", err.Error())
				os.Exit(1)
			}
		}
		if err := sortengine.CreateDefaultConfig(configPath); err != nil {
			fmt.Printf("Error creating config file: %s\n", err.Error())
			os.Exit(1)
		}
		os.Exit(0)
	}

	config, err := sortengine.LoadConfig(flags.ConfigFile)
	if err != nil {
		fmt.Printf("Error loading config: %s\n", err.Error())
		fmt.Printf("Use --init to create a default config file\n")
		os.Exit(2)
	}
	config.ApplyFlags(flags)
	if err := config.Validate(); err != nil {
		fmt.Printf("Error: %s\n", err.Error())
		os.Exit(2)
	}
	if err := checkRoot(config.Server.Root); err != nil {
		fmt.Printf("Root directory unusable: %s\n", err.Error())
		os.Exit(1)
	}

	log := logging.NewLogger(config.Color, config.Verbose)
	engine, err := sortengine.NewEngine(config, log)
	if err != nil {
		fmt.Printf("Error: %s\n", err.Error())
		os.Exit(1)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		for sig := range c {
			fmt.Printf("Received SIGINT: %v\n", sig)
			engine.Close()
			os.Exit(1)
		}
	}()

	if !config.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(&server{engine: engine, root: config.Server.Root})
	if err := router.Run(fmt.Sprintf("%s:%d", config.Server.IP, config.Server.Port)); err != nil {
		fmt.Printf("Error: %s\n", err.Error())
		engine.Close()
		os.Exit(1)
	}
}
