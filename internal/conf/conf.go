/* usbmuxd-go - USB multiplexing and lockdown client for Apple mobile devices
 *
 * Program configuration
 */

package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/go-imobiledevice/usbmuxd/internal/logger"
	"github.com/go-imobiledevice/usbmuxd/internal/paths"
)

// FileName is the name of the usbmuxd-go configuration file
const FileName = "usbmuxd-go.conf"

// Configuration holds the whole program configuration
type Configuration struct {
	UsbVendor        uint16        // USB vendor ID to match (Apple: 0x05AC)
	UsbProductMin    uint16        // Lowest USB product ID to match
	UsbProductMax    uint16        // Highest USB product ID to match
	PairRecordDir    string        // Directory holding persisted pair records
	PairingRetries   int           // Max PairingDialogResponsePending retries
	PairingRetryWait time.Duration // Delay between pairing retries
	ConnectTimeout   time.Duration // Mux SYN/SYN+ACK timeout
	LogDevice        logger.Level  // Per-device log mask
	LogMain          logger.Level  // Main log mask
	LogConsole       logger.Level  // Console log mask
	ColorConsole     bool          // Enable ANSI colors on console
}

// Conf holds the global, live program configuration
var Conf = Configuration{
	UsbVendor:        0x05AC,
	UsbProductMin:    0x1290,
	UsbProductMax:    0x1293,
	PairRecordDir:    paths.PairRecordDir,
	PairingRetries:   20,
	PairingRetryWait: time.Second,
	ConnectTimeout:   time.Second,
	LogDevice:        logger.LevelDebug,
	LogMain:          logger.LevelDebug,
	LogConsole:       logger.LevelDebug,
	ColorConsole:     true,
}

// Load loads the program configuration from the system configuration
// directory and then from a file next to the running executable.
// A missing file is skipped; where both exist, settings in the file
// next to the executable override those from the system directory.
func Load() error {
	exepath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("conf: %w", err)
	}
	exepath = filepath.Dir(exepath)

	files := []string{
		filepath.Join(paths.ConfDir, FileName),
		filepath.Join(exepath, FileName),
	}

	for _, file := range files {
		if err := loadFile(file); err != nil {
			return fmt.Errorf("conf: %w", err)
		}
	}

	return nil
}

func loadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return err
	}

	if sec := cfg.Section("usb"); sec != nil {
		if k := sec.Key("vendor"); k.String() != "" {
			v, err := k.Uint()
			if err != nil {
				return fmt.Errorf("usb.vendor: %w", err)
			}
			Conf.UsbVendor = uint16(v)
		}
		if k := sec.Key("product-min"); k.String() != "" {
			v, err := k.Uint()
			if err != nil {
				return fmt.Errorf("usb.product-min: %w", err)
			}
			Conf.UsbProductMin = uint16(v)
		}
		if k := sec.Key("product-max"); k.String() != "" {
			v, err := k.Uint()
			if err != nil {
				return fmt.Errorf("usb.product-max: %w", err)
			}
			Conf.UsbProductMax = uint16(v)
		}
	}

	if sec := cfg.Section("pairing"); sec != nil {
		if k := sec.Key("record-dir"); k.String() != "" {
			Conf.PairRecordDir = k.String()
		}
		if k := sec.Key("retries"); k.String() != "" {
			v, err := k.Int()
			if err != nil {
				return fmt.Errorf("pairing.retries: %w", err)
			}
			Conf.PairingRetries = v
		}
		if k := sec.Key("retry-wait"); k.String() != "" {
			d, err := time.ParseDuration(k.String())
			if err != nil {
				return fmt.Errorf("pairing.retry-wait: %w", err)
			}
			Conf.PairingRetryWait = d
		}
	}

	if sec := cfg.Section("logging"); sec != nil {
		if k := sec.Key("device-log"); k.String() != "" {
			mask, err := parseLogLevel(k.String())
			if err != nil {
				return fmt.Errorf("logging.device-log: %w", err)
			}
			Conf.LogDevice = mask
		}
		if k := sec.Key("main-log"); k.String() != "" {
			mask, err := parseLogLevel(k.String())
			if err != nil {
				return fmt.Errorf("logging.main-log: %w", err)
			}
			Conf.LogMain = mask
		}
		if k := sec.Key("console-log"); k.String() != "" {
			mask, err := parseLogLevel(k.String())
			if err != nil {
				return fmt.Errorf("logging.console-log: %w", err)
			}
			Conf.LogConsole = mask
		}
		if k := sec.Key("console-color"); k.String() != "" {
			b, err := k.Bool()
			if err != nil {
				return fmt.Errorf("logging.console-color: %w", err)
			}
			Conf.ColorConsole = b
		}
	}

	if Conf.UsbProductMin > Conf.UsbProductMax {
		return fmt.Errorf("usb.product-min must be <= usb.product-max")
	}

	return nil
}

// parseLogLevel parses a comma-separated list of level names into a
// logger.Level mask, in the teacher's confLoadLogLevelKey style.
func parseLogLevel(s string) (logger.Level, error) {
	var mask logger.Level

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
		case "error":
			mask |= logger.LevelError
		case "info":
			mask |= logger.LevelInfo | logger.LevelError
		case "debug":
			mask |= logger.LevelDebug | logger.LevelInfo | logger.LevelError
		case "trace-mux":
			mask |= logger.LevelTraceMux | logger.LevelDebug | logger.LevelInfo | logger.LevelError
		case "trace-lockdown":
			mask |= logger.LevelTraceLockdown | logger.LevelDebug | logger.LevelInfo | logger.LevelError
		case "trace-plist":
			mask |= logger.LevelTracePlist | logger.LevelDebug | logger.LevelInfo | logger.LevelError
		case "all", "trace-all":
			mask |= logger.LevelAll
		default:
			return 0, fmt.Errorf("invalid log level %q", part)
		}
	}

	return mask, nil
}
