package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	baseURL string
	client  *Client
)

// FileInfo is the file view returned by the server
type FileInfo struct {
	Hash           string    `json:"hash"`
	FileName       string    `json:"file_name"`
	FileSize       int64     `json:"file_size"`
	ReadableSize   string    `json:"readable_size"`
	ContentType    string    `json:"content_type"`
	URL            string    `json:"url"`
	CreatedAt      time.Time `json:"created_at"`
	AvailableUntil time.Time `json:"available_until"`
	Available      bool      `json:"available"`
	HasPassword    bool      `json:"has_password"`
	ExtensionsLeft *int      `json:"extensions_left,omitempty"`
	DownloadCount  *int64    `json:"download_count,omitempty"`
}

// Response is the envelope every JSON answer of the server uses
type Response struct {
	Status     string     `json:"status"`
	StatusText string     `json:"statusText"`
	File       *FileInfo  `json:"file,omitempty"`
	Files      []FileInfo `json:"files,omitempty"`
}

// APIError is a non-2xx answer of the server
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.Code, e.Message)
}

// Identity is sent as the trusted identity headers
type Identity struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Identity   Identity
}

func NewClient(baseURL string, id Identity) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		BaseURL:  baseURL,
		Identity: id,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Minute,
		},
	}
}

func (c *Client) newRequest(method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, c.BaseURL+strings.TrimPrefix(path, "/"), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Identity.ID != "" {
		req.Header.Set("X-Remote-User", c.Identity.ID)
	}
	if c.Identity.Email != "" {
		req.Header.Set("X-Remote-Email", c.Identity.Email)
	}
	if c.Identity.FirstName != "" {
		req.Header.Set("X-Remote-Firstname", c.Identity.FirstName)
	}
	if c.Identity.LastName != "" {
		req.Header.Set("X-Remote-Lastname", c.Identity.LastName)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out Response
	decodeErr := json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.StatusText
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &APIError{Code: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	return &out, nil
}

func (c *Client) postForm(path string, form url.Values) (*Response, error) {
	req, err := c.newRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// UploadFile sends filePath as a new upload
func (c *Client) UploadFile(filePath, password string, notify bool) (*FileInfo, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(fileWriter, file); err != nil {
		return nil, fmt.Errorf("failed to copy file: %w", err)
	}

	if password != "" {
		writer.WriteField("password", password)
	}
	writer.WriteField("notify", fmt.Sprint(notify))
	writer.Close()

	req, err := c.newRequest(http.MethodPost, "", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.File == nil {
		return nil, errors.New("server response has no file")
	}
	return resp.File, nil
}

// List returns the files uploaded by the client identity
func (c *Client) List() ([]FileInfo, error) {
	req, err := c.newRequest(http.MethodGet, "", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// Info returns the preview of hash
func (c *Client) Info(hash string) (*FileInfo, error) {
	req, err := c.newRequest(http.MethodGet, url.PathEscape(hash), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return resp.File, nil
}

// Extend asks for one more extension unit on hash
func (c *Client) Extend(hash string) (*FileInfo, error) {
	resp, err := c.postForm(url.PathEscape(hash)+"/extend", nil)
	if err != nil {
		return nil, err
	}
	return resp.File, nil
}

// Delete removes hash
func (c *Client) Delete(hash string) error {
	_, err := c.postForm(url.PathEscape(hash)+"/delete", nil)
	return err
}

// Email shares the link of hash with the comma separated recipients in to
func (c *Client) Email(hash, to, msg string) error {
	_, err := c.postForm(url.PathEscape(hash)+"/email", url.Values{"to": {to}, "msg": {msg}})
	return err
}

// Download writes the content of hash under dir and returns the written path
func (c *Client) Download(hash, password, dir string) (string, int64, error) {
	form := url.Values{}
	if password != "" {
		form.Set("password", password)
	}
	req, err := c.newRequest(http.MethodPost, url.PathEscape(hash)+"/download", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var out Response
		body, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &out) == nil && out.StatusText != "" {
			msg = out.StatusText
		}
		return "", 0, &APIError{Code: resp.StatusCode, Message: msg}
	}

	name := hash
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = filepath.Base(params["filename"])
	}

	target := filepath.Join(dir, name)
	f, err := os.Create(target)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create %s: %w", target, err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to write %s: %w", target, err)
	}
	return target, n, nil
}

func formatExpirationDate(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Local().Format("Jan 2, 2006 at 3:04 PM")
}

func printFile(f *FileInfo) {
	fmt.Printf("URL: %s\n", f.URL)
	fmt.Printf("Name: %s\n", f.FileName)
	fmt.Printf("Size: %s\n", f.ReadableSize)
	if f.HasPassword {
		fmt.Printf("Password protected: yes\n")
	}
	if f.Available {
		fmt.Printf("Available until: %s (%s)\n", formatExpirationDate(f.AvailableUntil), humanize.Time(f.AvailableUntil))
	} else {
		fmt.Printf("Available until: expired\n")
	}
	if f.ExtensionsLeft != nil {
		fmt.Printf("Extensions left: %d\n", *f.ExtensionsLeft)
	}
	if f.DownloadCount != nil {
		fmt.Printf("Downloads: %d\n", *f.DownloadCount)
	}
}

var rootCmd = &cobra.Command{
	Use:   "filez-client",
	Short: "Command line client for a filez server",
	Long: `Upload, share and manage temporary files on a filez server.

Configuration is read from ~/.filez/config.yaml and FILEZ_CLIENT_* variables.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("server") {
			baseURL, _ = cmd.Flags().GetString("server")
		} else {
			baseURL = viper.GetString("server")
		}
		client = NewClient(baseURL, Identity{
			ID:        viper.GetString("user"),
			Email:     viper.GetString("email"),
			FirstName: viper.GetString("firstname"),
			LastName:  viper.GetString("lastname"),
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:     "upload <file>",
	Aliases: []string{"u", "up"},
	Short:   "Upload a file to the server",
	Long: `Upload a file to the filez server.

Options:
  --password, -p    Protect the download with a password
  --no-notify       Don't warn me by email before the file is deleted`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		noNotify, _ := cmd.Flags().GetBool("no-notify")

		f, err := client.UploadFile(args[0], password, !noNotify)
		if err != nil {
			return fmt.Errorf("error uploading file: %w", err)
		}
		fmt.Printf("Upload successful!\n")
		printFile(f)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List your uploaded files",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := client.List()
		if err != nil {
			return fmt.Errorf("error listing files: %w", err)
		}
		if len(files) == 0 {
			fmt.Println("No files")
			return nil
		}
		for _, f := range files {
			state := humanize.Time(f.AvailableUntil)
			if !f.Available {
				state = "expired"
			}
			fmt.Printf("%s\t%s\t%s\t%s\n", f.Hash, f.ReadableSize, state, f.FileName)
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:     "info <hash>",
	Aliases: []string{"i"},
	Short:   "Show a file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := client.Info(args[0])
		if err != nil {
			return fmt.Errorf("error fetching file: %w", err)
		}
		printFile(f)
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:     "download <hash>",
	Aliases: []string{"dl"},
	Short:   "Download a file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		dir, _ := cmd.Flags().GetString("output")

		path, n, err := client.Download(args[0], password, dir)
		if err != nil {
			return fmt.Errorf("error downloading file: %w", err)
		}
		fmt.Printf("Saved %s (%s)\n", path, humanize.IBytes(uint64(n)))
		return nil
	},
}

var extendCmd = &cobra.Command{
	Use:     "extend <hash>",
	Aliases: []string{"e", "ext"},
	Short:   "Extend the lifetime of a file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := client.Extend(args[0])
		if err != nil {
			return fmt.Errorf("error extending file: %w", err)
		}
		fmt.Printf("Lifetime extended!\n")
		printFile(f)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <hash>",
	Aliases: []string{"d", "del"},
	Short:   "Delete an uploaded file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.Delete(args[0]); err != nil {
			return fmt.Errorf("error deleting file: %w", err)
		}
		fmt.Printf("File %s deleted successfully!\n", args[0])
		return nil
	},
}

var emailCmd = &cobra.Command{
	Use:   "email <hash>",
	Short: "Send the link of a file by email",
	Long: `Send the link of a file by email.

Example: filez-client email abc123 --to alice@example.com,bob@example.com --msg "the report"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")
		msg, _ := cmd.Flags().GetString("msg")
		if to == "" {
			return fmt.Errorf("at least one recipient is required")
		}
		if err := client.Email(args[0], to, msg); err != nil {
			return fmt.Errorf("error sending email: %w", err)
		}
		fmt.Printf("Email sent!\n")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:     "config",
	Aliases: []string{"c", "cfg"},
	Short:   "Manage client configuration",
	Long: `Manage client configuration settings like server URL and identity.

Configuration is stored in ~/.filez/config.yaml`,
}

var configSetCmd = &cobra.Command{
	Use:     "set <key> <value>",
	Aliases: []string{"s"},
	Short:   "Set a configuration value",
	Long: `Set a configuration value.

Available keys:
  • server: Server URL (e.g., https://filez.example.com/)
  • user, email, firstname, lastname: identity sent to the server

Example: filez-client config set server https://filez.example.com/`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		viper.Set(key, value)
		if err := viper.WriteConfig(); err != nil {
			return fmt.Errorf("error saving configuration: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:     "get <key>",
	Aliases: []string{"g"},
	Short:   "Get a configuration value",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value := viper.GetString(key)

		if value == "" {
			fmt.Printf("%s is not set\n", key)
		} else {
			fmt.Printf("%s = %s\n", key, value)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("server", "s", "http://localhost:8080/", "filez server URL")

	uploadCmd.Flags().StringP("password", "p", "", "protect the download with a password")
	uploadCmd.Flags().Bool("no-notify", false, "don't send a deletion warning")

	downloadCmd.Flags().StringP("password", "p", "", "download password")
	downloadCmd.Flags().StringP("output", "o", ".", "directory to write the file to")

	emailCmd.Flags().String("to", "", "comma separated recipients")
	emailCmd.Flags().String("msg", "", "message added to the email")

	configCmd.AddCommand(configSetCmd, configGetCmd)
	rootCmd.AddCommand(uploadCmd, listCmd, infoCmd, downloadCmd, extendCmd, deleteCmd, emailCmd, configCmd)
}

func initConfig() {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting home directory: %v\n", err)
		return
	}

	configDir := filepath.Join(home, ".filez")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating config directory: %v\n", err)
		return
	}

	viper.AddConfigPath(configDir)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("FILEZ_CLIENT")
	viper.AutomaticEnv()

	viper.SetDefault("server", "http://localhost:8080/")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			configFile := filepath.Join(configDir, "config.yaml")
			if err := viper.WriteConfigAs(configFile); err != nil {
				fmt.Fprintf(os.Stderr, "Error creating config file: %v\n", err)
			}
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
