package main

// This application is the client for the mkv-rename API.
// It walks a directory on a share that the API server also sees under its
// root, and asks the server to rename every video it finds.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/wezm/mkv-rename/internal/logging"
	"github.com/wezm/mkv-rename/internal/metadata"
	"github.com/wezm/mkv-rename/internal/sortengine"
)

var (
	Version string = "dev"
)

type Client struct {
	Host       string
	Root       string
	DryRun     bool
	log        *logging.Logger
	httpClient *http.Client
	FileList   []string
}

type renameRequest struct {
	Path   string `json:"path"`
	DryRun bool   `json:"dry_run"`
}

type renameResponse struct {
	Status string                 `json:"status"`
	Reason string                 `json:"reason"`
	Plan   *sortengine.RenamePlan `json:"plan"`
}

func NewClient(config *sortengine.Config, root string, log *logging.Logger) *Client {
	return &Client{
		Host:       config.Client.Host,
		Root:       root,
		DryRun:     config.DryRun,
		log:        log,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		FileList:   make([]string, 0),
	}
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(c.Host, "http://") || strings.HasPrefix(c.Host, "https://") {
		return strings.TrimRight(c.Host, "/") + path
	}
	return fmt.Sprintf("http://%s%s", c.Host, path)
}

func (c *Client) GetVersion() (string, error) {
	response, err := c.httpClient.Get(c.url("/version"))
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	type ServerVersion struct {
		Version string `json:"version"`
	}
	var sver ServerVersion
	if err := json.NewDecoder(response.Body).Decode(&sver); err != nil {
		return "", fmt.Errorf("unable to decode version: %w", err)
	}
	return sver.Version, nil
}

// AddFile queues path when its extension is one the server can read.
func (c *Client) AddFile(path string) {
	if _, err := metadata.FormatFromPath(path); err != nil {
		c.log.Debug("skipping %s: %v", path, err)
		return
	}
	c.FileList = append(c.FileList, path)
}

// WalkDir queues every supported file under dir.
func (c *Client) WalkDir(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		c.AddFile(path)
		return nil
	})
}

// RenameFile asks the server to rename the file at the local path, given relative to the root.
func (c *Client) RenameFile(path string) (*renameResponse, error) {
	rel, err := filepath.Rel(c.Root, path)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(renameRequest{Path: filepath.ToSlash(rel), DryRun: c.DryRun})
	if err != nil {
		return nil, err
	}

	response, err := c.httpClient.Post(c.url("/rename"), "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	var result renameResponse
	if err := json.Unmarshal(responseBody, &result); err != nil {
		return nil, fmt.Errorf("unable to decode response (HTTP %d): %w", response.StatusCode, err)
	}
	if response.StatusCode != http.StatusOK {
		if result.Reason == "" {
			result.Reason = http.StatusText(response.StatusCode)
		}
		return &result, errors.New(result.Reason)
	}
	if result.Plan == nil {
		return &result, errors.New("response has no plan")
	}
	return &result, nil
}

// RenameFiles sends each queued file and reports whether all of them succeeded.
func (c *Client) RenameFiles() bool {
	ok := true
	for _, path := range c.FileList {
		result, err := c.RenameFile(path)
		if err != nil {
			c.log.Error("Error processing %s: %v", path, err)
			ok = false
			continue
		}
		switch result.Status {
		case "planned":
			c.log.Info("would rename: %s -> %s", path, filepath.Join(filepath.Dir(path), filepath.Base(result.Plan.To)))
		case "unchanged":
			c.log.Info("%s: already named for %d, nothing to do", path, result.Plan.Epoch)
		default:
			c.log.Success("%s -> %s", path, filepath.Join(filepath.Dir(path), filepath.Base(result.Plan.To)))
		}
	}
	return ok
}

func (c *Client) CheckVersion() error {
	serverVersion, err := c.GetVersion()
	if err != nil {
		return fmt.Errorf("error getting version: %w", err)
	}
	compareString := "=="
	if serverVersion != Version {
		compareString = "!="
	}
	c.log.Debug("Client: %s %s Server: %s", Version, compareString, serverVersion)
	if serverVersion != Version {
		c.log.Warn("client version %s does not match server version %s", Version, serverVersion)
	}
	return nil
}

func printVersion() {
	fmt.Printf("mkv-rename Client Version: %s\n", Version)
}

func main() {
	printVersion()

	flags := &sortengine.ConfigFlags{}
	var root string
	pflag.StringVarP(&flags.ConfigFile, "config", "c", "", "Path to config file (default: ~/.mkv-rename.yml)")
	pflag.StringVar(&flags.Host, "host", "", "Server host address (overrides config)")
	pflag.StringVar(&root, "root", "", "Local mount of the server root (default: the directory argument)")
	pflag.BoolVarP(&flags.DryRun, "dry-run", "n", false, "Ask the server for new names without renaming")
	pflag.BoolVarP(&flags.Verbose, "verbose", "v", false, "Print debug output")
	pflag.BoolVar(&flags.InitConfig, "init", false, "Create default config file and exit")
	pflag.Parse()

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

	args := pflag.Args()
	if len(args) < 1 {
		fmt.Println("Usage: client [flags] <directory>")
		fmt.Println("\nFlags:")
		pflag.PrintDefaults()
		os.Exit(2)
	}
	dir := args[0]
	if root == "" {
		root = dir
	}

	config, err := sortengine.LoadConfig(flags.ConfigFile)
	if err != nil {
		fmt.Printf("Error loading config: %s\n", err.Error())
		fmt.Printf("Use --init to create a default config file\n")
		os.Exit(2)
	}
	config.ApplyFlags(flags)

	log := logging.NewLogger(config.Color, config.Verbose)
	client := NewClient(config, root, log)
	if err := client.CheckVersion(); err != nil {
		log.Error("%s", err)
		os.Exit(1)
	}

	log.Info("Scanning files, please wait...")
	if err := client.WalkDir(dir); err != nil {
		log.Error("Error scanning %s: %s", dir, err)
		os.Exit(1)
	}
	if !client.RenameFiles() {
		os.Exit(1)
	}
}
