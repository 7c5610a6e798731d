package config

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/1mmey/SecurityChat/internal/interfaces"
)

// CLIConfig implements the Configuration interface with CLI flag support
type CLIConfig struct {
	username    string
	token       string
	relayURL    string
	signalURL   string
	port        int
	logLevel    string
	serviceType string
	verbose     bool
	logFile     string
	friendsFile string
	metricsAddr string
}

// NewCLIConfig creates a new configuration from CLI flags, environment
// variables and interactive prompts
func NewCLIConfig() interfaces.Configuration {
	cfg := &CLIConfig{
		relayURL:    "ws://localhost:8000",
		signalURL:   "ws://localhost:9000/signal",
		port:        0, // 0 means random available port
		logLevel:    "INFO",
		serviceType: "_securitychat._tcp",
	}

	cfg.parseFlags()
	cfg.loadFromEnv()

	// If username not provided via flags or env, prompt interactively
	if cfg.username == "" {
		cfg.username = cfg.promptUsername()
	}

	// Auto-generate log file name if verbose mode is disabled but no file specified
	if !cfg.verbose && cfg.logFile == "" {
		cfg.logFile = fmt.Sprintf("securitychat_%s.log", cfg.username)
	}

	return cfg
}

// parseFlags parses command line flags
func (c *CLIConfig) parseFlags() {
	flag.StringVar(&c.username, "username", "", "Your username (required)")
	flag.StringVar(&c.username, "u", "", "Your username (shorthand)")
	flag.StringVar(&c.token, "token", "", "Session token for the relay server")
	flag.StringVar(&c.relayURL, "relay", c.relayURL, "Relay server websocket URL")
	flag.StringVar(&c.signalURL, "signal", c.signalURL, "Rendezvous service websocket URL")
	flag.IntVar(&c.port, "port", 0, "Port to listen on for direct peer connections (0 = random)")
	flag.StringVar(&c.logLevel, "log", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	flag.BoolVar(&c.verbose, "verbose", false, "Verbose mode - logs to terminal instead of file")
	flag.BoolVar(&c.verbose, "v", false, "Verbose mode (shorthand)")
	flag.StringVar(&c.logFile, "logfile", "", "Log file path (auto-generated if not specified)")
	flag.StringVar(&c.friendsFile, "friends", "", "Path to the friends list JSON file")
	flag.StringVar(&c.metricsAddr, "metrics", "", "Address to serve Prometheus metrics on (empty = disabled)")
	flag.Parse()
}

// promptUsername prompts the user for a username interactively
func (c *CLIConfig) promptUsername() string {
	fmt.Println("SecurityChat")
	fmt.Println("============")
	fmt.Println()

	defaultUsername := getSystemUsername()
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Printf("Enter your username [%s]: ", defaultUsername)
		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			os.Exit(1)
		}

		username := strings.TrimSpace(input)
		if username == "" {
			username = defaultUsername
		}

		if err := c.validateUsername(username); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid username: %v\n", err)
			continue
		}

		return username
	}
}

// validateUsername validates the username
func (c *CLIConfig) validateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if len(username) > 20 {
		return fmt.Errorf("username too long (max 20 characters)")
	}

	if strings.ContainsAny(username, " \t\n\r") {
		return fmt.Errorf("username cannot contain spaces")
	}

	return nil
}

// loadFromEnv loads configuration from environment variables (as fallback)
func (c *CLIConfig) loadFromEnv() {
	if c.username == "" {
		if username := os.Getenv("CHAT_USERNAME"); username != "" {
			c.username = username
		}
	}

	if c.token == "" {
		if token := os.Getenv("CHAT_TOKEN"); token != "" {
			c.token = token
		}
	}

	if c.relayURL == "ws://localhost:8000" {
		if relay := os.Getenv("CHAT_RELAY_URL"); relay != "" {
			c.relayURL = relay
		}
	}

	if c.signalURL == "ws://localhost:9000/signal" {
		if signal := os.Getenv("CHAT_SIGNAL_URL"); signal != "" {
			c.signalURL = signal
		}
	}

	if c.logLevel == "INFO" {
		if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
			c.logLevel = logLevel
		}
	}

	if c.friendsFile == "" {
		if friends := os.Getenv("CHAT_FRIENDS_FILE"); friends != "" {
			c.friendsFile = friends
		}
	}
}

// GetUsername returns the username
func (c *CLIConfig) GetUsername() string {
	return c.username
}

// GetToken returns the relay session token
func (c *CLIConfig) GetToken() string {
	return c.token
}

// GetRelayURL returns the relay server URL
func (c *CLIConfig) GetRelayURL() string {
	return c.relayURL
}

// GetSignalURL returns the rendezvous service URL
func (c *CLIConfig) GetSignalURL() string {
	return c.signalURL
}

// GetPort returns the peer listen port
func (c *CLIConfig) GetPort() int {
	return c.port
}

// GetLogLevel returns the log level
func (c *CLIConfig) GetLogLevel() string {
	return c.logLevel
}

// GetServiceType returns the service type for mDNS
func (c *CLIConfig) GetServiceType() string {
	return c.serviceType
}

// GetQuiet returns whether quiet mode is enabled (inverse of verbose)
func (c *CLIConfig) GetQuiet() bool {
	return !c.verbose
}

// GetLogFile returns the log file path
func (c *CLIConfig) GetLogFile() string {
	return c.logFile
}

// GetFriendsFile returns the friends list path
func (c *CLIConfig) GetFriendsFile() string {
	return c.friendsFile
}

// GetMetricsAddr returns the metrics listen address
func (c *CLIConfig) GetMetricsAddr() string {
	return c.metricsAddr
}

// getSystemUsername returns the system username or a default
func getSystemUsername() string {
	if currentUser, err := user.Current(); err == nil {
		return currentUser.Username
	}

	if username := os.Getenv("USER"); username != "" {
		return username
	}

	if username := os.Getenv("USERNAME"); username != "" {
		return username
	}

	return "user"
}

// PrintUsage prints usage information
func PrintUsage() {
	fmt.Println("SecurityChat")
	fmt.Println("Usage: securitychat [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -username, -u string    Your username (required if not provided interactively)")
	fmt.Println("  -token string           Session token for the relay server")
	fmt.Println("  -relay string           Relay server websocket URL")
	fmt.Println("  -signal string          Rendezvous service websocket URL")
	fmt.Println("  -port int               Peer listen port (0 = random available)")
	fmt.Println("  -log string             Log level: DEBUG, INFO, WARN, ERROR (default: INFO)")
	fmt.Println("  -verbose, -v            Verbose mode - logs to terminal instead of file")
	fmt.Println("  -logfile string         Log file path (auto-generated if not specified)")
	fmt.Println("  -friends string         Path to the friends list JSON file")
	fmt.Println("  -metrics string         Prometheus metrics listen address (empty = disabled)")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  CHAT_USERNAME           Your username")
	fmt.Println("  CHAT_TOKEN              Relay session token")
	fmt.Println("  CHAT_RELAY_URL          Relay server URL")
	fmt.Println("  CHAT_SIGNAL_URL         Rendezvous service URL")
	fmt.Println("  CHAT_FRIENDS_FILE       Friends list path")
	fmt.Println("  LOG_LEVEL               Log level")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  securitychat -username alice -token t0k3n")
	fmt.Println("  securitychat -u bob -relay ws://chat.example.com")
	fmt.Println("  securitychat -u alice --verbose")
	fmt.Println("  securitychat") // Will prompt for username
}
