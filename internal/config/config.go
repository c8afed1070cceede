package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDGripper string
	MQTTClientIDConsole string
	MQTTClientIDWeb     string
	MQTTClientIDDisplay string

	// Topics
	TopicSnapshot string
	TopicSpectrum string
	TopicCommand  string

	// Timing
	ScanIntervalUS        int // magnetic scan cycle, microseconds
	CurrentReadIntervalMS int
	ButtonReadIntervalMS  int
	ActuatorIntervalMS    int
	TelemetryIntervalMS   int

	// Filters
	MainCutoffHz      float64
	BandSplitCutoffHz float64
	CurrentCutoffHz   float64
	CurrentSampleHz   float64

	// Slip detection
	FFTSamples       int
	SlipFreqStartHz  float64
	SlipFreqEndHz    float64
	SlipThreshold    float64
	SlipIgnoreCycles int

	// Gripping FSM
	ReactionCooldownMS      int
	BackoffDelayMS          int
	BackoffIntervalMS       int
	GripCurrentThresholdMA  float64
	GripMagnitudeThreshold  float64
	GripMagnitudeDropMargin float64
	GraspingStep            int
	OpeningStep             int
	BackoffStep             int
	MaxReactionSteps        int
	FullyOpen               int
	FullyClosed             int

	// Actuator
	MaxSpeed          int
	Acceleration      int
	Deadzone          int
	StepsPerUnit      int // motor steps per jaw position unit
	RunCurrentMA      int
	RunStallThreshold int

	// Homing
	HomingCurrentMA     int
	HomingThreshold     int
	HomingSpeed         int
	HomingAwayMS        int
	HomingSettleMS      int
	HomingTimeoutMS     int
	HomingStallReadings int

	// Magnetic sensor hardware
	MagI2CBus  string
	MagI2CAddr uint16

	// Current sensor hardware
	CurrentI2CBus  string
	CurrentI2CAddr uint16

	// Motor driver hardware (TMC2209 over UART + enable GPIO)
	MotorSerialPort string
	MotorBaudRate   int
	MotorDriverAddr int
	MotorEnablePin  string

	// Buttons (debounced externally)
	ButtonGraspPin    string
	ButtonOpenPin     string
	ButtonLiftUpPin   string
	ButtonLiftDownPin string
	ButtonAutoPin     string

	// Serial diagnostic link
	DiagSerialPort string
	DiagBaudRate   int

	// Web server
	WebServerPort int

	// Display
	DisplayUpdateInterval int // milliseconds
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported so other packages cannot access it directly.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access. Write lock for initialization,
//     read lock for Get() allows multiple concurrent readers without blocking each other.
//
// External code must use InitGlobal() to set and Get() to read, ensuring thread safety.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// defaults returns a Config pre-filled with the tuned values for the
// gripper hardware. The config file overrides individual keys.
func defaults() *Config {
	return &Config{
		MQTTClientIDGripper: "gripper-controller",
		MQTTClientIDConsole: "gripper-console-subscriber",
		MQTTClientIDWeb:     "gripper-web-subscriber",
		MQTTClientIDDisplay: "gripper-display-subscriber",

		TopicSnapshot: "gripper/snapshot",
		TopicSpectrum: "gripper/spectrum",
		TopicCommand:  "gripper/command",

		ScanIntervalUS:        500, // 2 kHz
		CurrentReadIntervalMS: 10,  // 100 Hz
		ButtonReadIntervalMS:  50,
		ActuatorIntervalMS:    10,
		TelemetryIntervalMS:   120,

		MainCutoffHz:      500.0,
		BandSplitCutoffHz: 30.0,
		CurrentCutoffHz:   5.0,
		CurrentSampleHz:   100.0,

		FFTSamples:       128,
		SlipFreqStartHz:  40,
		SlipFreqEndHz:    300,
		SlipThreshold:    250.0,
		SlipIgnoreCycles: 256,

		ReactionCooldownMS:      74,
		BackoffDelayMS:          2000,
		BackoffIntervalMS:       1000,
		GripCurrentThresholdMA:  8.0,
		GripMagnitudeThreshold:  5.0,
		GripMagnitudeDropMargin: 1.0,
		GraspingStep:            2,
		OpeningStep:             5,
		BackoffStep:             0, // backoff-while-holding disabled
		MaxReactionSteps:        5,
		FullyOpen:               180,
		FullyClosed:             0,

		MaxSpeed:          100000,
		Acceleration:      2000,
		Deadzone:          2,
		StepsPerUnit:      100,
		RunCurrentMA:      600,
		RunStallThreshold: 3,

		HomingCurrentMA:     300,
		HomingThreshold:     50,
		HomingSpeed:         20000,
		HomingAwayMS:        5000,
		HomingSettleMS:      2000,
		HomingTimeoutMS:     10000,
		HomingStallReadings: 3,

		MagI2CAddr:     0x35,
		CurrentI2CAddr: 0x40,

		MotorBaudRate:   115200,
		MotorDriverAddr: 0,

		DiagBaudRate: 115200,

		WebServerPort: 8080,

		DisplayUpdateInterval: 250,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	atoi := func(dst *int) error {
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		*dst = v
		return nil
	}
	atof := func(dst *float64) error {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		*dst = v
		return nil
	}
	addr := func(dst *uint16) error {
		v, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		*dst = uint16(v)
		return nil
	}

	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_GRIPPER":
		c.MQTTClientIDGripper = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_SNAPSHOT":
		c.TopicSnapshot = value
	case "TOPIC_SPECTRUM":
		c.TopicSpectrum = value
	case "TOPIC_COMMAND":
		c.TopicCommand = value

	// Timing
	case "SCAN_INTERVAL_US":
		if err := atoi(&c.ScanIntervalUS); err != nil {
			return err
		}
		if c.ScanIntervalUS <= 0 {
			return fmt.Errorf("SCAN_INTERVAL_US must be positive, got %d", c.ScanIntervalUS)
		}
	case "CURRENT_READ_INTERVAL_MS":
		return atoi(&c.CurrentReadIntervalMS)
	case "BUTTON_READ_INTERVAL_MS":
		return atoi(&c.ButtonReadIntervalMS)
	case "ACTUATOR_INTERVAL_MS":
		return atoi(&c.ActuatorIntervalMS)
	case "TELEMETRY_INTERVAL_MS":
		return atoi(&c.TelemetryIntervalMS)

	// Filters
	case "MAIN_CUTOFF_HZ":
		return atof(&c.MainCutoffHz)
	case "BAND_SPLIT_CUTOFF_HZ":
		return atof(&c.BandSplitCutoffHz)
	case "CURRENT_CUTOFF_HZ":
		return atof(&c.CurrentCutoffHz)
	case "CURRENT_SAMPLE_HZ":
		return atof(&c.CurrentSampleHz)

	// Slip detection
	case "FFT_SAMPLES":
		if err := atoi(&c.FFTSamples); err != nil {
			return err
		}
		if c.FFTSamples <= 0 || c.FFTSamples&(c.FFTSamples-1) != 0 {
			return fmt.Errorf("FFT_SAMPLES must be a power of two, got %d", c.FFTSamples)
		}
	case "SLIP_FREQ_START_HZ":
		return atof(&c.SlipFreqStartHz)
	case "SLIP_FREQ_END_HZ":
		return atof(&c.SlipFreqEndHz)
	case "SLIP_THRESHOLD":
		return atof(&c.SlipThreshold)
	case "SLIP_IGNORE_CYCLES":
		return atoi(&c.SlipIgnoreCycles)

	// Gripping FSM
	case "REACTION_COOLDOWN_MS":
		return atoi(&c.ReactionCooldownMS)
	case "BACKOFF_DELAY_MS":
		return atoi(&c.BackoffDelayMS)
	case "BACKOFF_INTERVAL_MS":
		return atoi(&c.BackoffIntervalMS)
	case "GRIP_CURRENT_THRESHOLD_MA":
		return atof(&c.GripCurrentThresholdMA)
	case "GRIP_MAGNITUDE_THRESHOLD":
		return atof(&c.GripMagnitudeThreshold)
	case "GRIP_MAGNITUDE_DROP_MARGIN":
		return atof(&c.GripMagnitudeDropMargin)
	case "GRASPING_STEP":
		return atoi(&c.GraspingStep)
	case "OPENING_STEP":
		return atoi(&c.OpeningStep)
	case "BACKOFF_STEP":
		return atoi(&c.BackoffStep)
	case "MAX_REACTION_STEPS":
		return atoi(&c.MaxReactionSteps)
	case "FULLY_OPEN":
		return atoi(&c.FullyOpen)
	case "FULLY_CLOSED":
		return atoi(&c.FullyClosed)

	// Actuator
	case "MAX_SPEED":
		return atoi(&c.MaxSpeed)
	case "ACCELERATION":
		if err := atoi(&c.Acceleration); err != nil {
			return err
		}
		if c.Acceleration <= 0 {
			return fmt.Errorf("ACCELERATION must be positive, got %d", c.Acceleration)
		}
	case "DEADZONE":
		return atoi(&c.Deadzone)
	case "STEPS_PER_UNIT":
		if err := atoi(&c.StepsPerUnit); err != nil {
			return err
		}
		if c.StepsPerUnit <= 0 {
			return fmt.Errorf("STEPS_PER_UNIT must be positive, got %d", c.StepsPerUnit)
		}
	case "RUN_CURRENT_MA":
		return atoi(&c.RunCurrentMA)
	case "RUN_STALL_THRESHOLD":
		return atoi(&c.RunStallThreshold)

	// Homing
	case "HOMING_CURRENT_MA":
		return atoi(&c.HomingCurrentMA)
	case "HOMING_THRESHOLD":
		return atoi(&c.HomingThreshold)
	case "HOMING_SPEED":
		return atoi(&c.HomingSpeed)
	case "HOMING_AWAY_MS":
		return atoi(&c.HomingAwayMS)
	case "HOMING_SETTLE_MS":
		return atoi(&c.HomingSettleMS)
	case "HOMING_TIMEOUT_MS":
		return atoi(&c.HomingTimeoutMS)
	case "HOMING_STALL_READINGS":
		return atoi(&c.HomingStallReadings)

	// Magnetic sensor hardware
	case "MAG_I2C_BUS":
		c.MagI2CBus = value
	case "MAG_I2C_ADDR":
		return addr(&c.MagI2CAddr)

	// Current sensor hardware
	case "CURRENT_I2C_BUS":
		c.CurrentI2CBus = value
	case "CURRENT_I2C_ADDR":
		return addr(&c.CurrentI2CAddr)

	// Motor driver hardware
	case "MOTOR_SERIAL_PORT":
		c.MotorSerialPort = value
	case "MOTOR_BAUD_RATE":
		return atoi(&c.MotorBaudRate)
	case "MOTOR_DRIVER_ADDR":
		return atoi(&c.MotorDriverAddr)
	case "MOTOR_ENABLE_PIN":
		c.MotorEnablePin = value

	// Buttons
	case "BUTTON_GRASP_PIN":
		c.ButtonGraspPin = value
	case "BUTTON_OPEN_PIN":
		c.ButtonOpenPin = value
	case "BUTTON_LIFT_UP_PIN":
		c.ButtonLiftUpPin = value
	case "BUTTON_LIFT_DOWN_PIN":
		c.ButtonLiftDownPin = value
	case "BUTTON_AUTO_PIN":
		c.ButtonAutoPin = value

	// Serial diagnostic link
	case "DIAG_SERIAL_PORT":
		c.DiagSerialPort = value
	case "DIAG_BAUD_RATE":
		return atoi(&c.DiagBaudRate)

	// Web server
	case "WEB_SERVER_PORT":
		return atoi(&c.WebServerPort)

	// Display
	case "DISPLAY_UPDATE_INTERVAL":
		return atoi(&c.DisplayUpdateInterval)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are consistent.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.SlipFreqEndHz <= c.SlipFreqStartHz {
		return fmt.Errorf("SLIP_FREQ_END_HZ must be above SLIP_FREQ_START_HZ")
	}
	if c.FullyOpen <= c.FullyClosed {
		return fmt.Errorf("FULLY_OPEN must be above FULLY_CLOSED")
	}
	return nil
}

// SampleRateHz returns the magnetic scan rate derived from the scan interval.
func (c *Config) SampleRateHz() float64 {
	return 1e6 / float64(c.ScanIntervalUS)
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
