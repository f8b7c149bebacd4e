package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/clayfab/internal/serialport"
)

// DefaultConfigPath is the robot configuration shipped with the repository.
const DefaultConfigPath = "config/robot.defaults.yaml"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// RobotConfig holds everything the sequencer needs to know about the cell.
type RobotConfig struct {
	Tools         Tools         `yaml:"tools" json:"tools"`
	Wobjs         WorkObjects   `yaml:"wobjs" json:"wobjs"`
	RobotMovement RobotMovement `yaml:"robot_movement" json:"robot_movement"`
	Docker        Docker        `yaml:"docker" json:"docker"`
	Measurement   Measurement   `yaml:"measurement" json:"measurement"`
	Link          Link          `yaml:"link" json:"link"`
}

type Tools struct {
	PickPlace  PickPlaceTool  `yaml:"pick_place" json:"pick_place"`
	DistSensor DistSensorTool `yaml:"dist_sensor" json:"dist_sensor"`
}

// PickPlaceTool is the needle gripper.
type PickPlaceTool struct {
	Name          string  `yaml:"name" json:"name"`
	IONeedles     string  `yaml:"io_needles" json:"io_needles"`
	ExtendSignal  int     `yaml:"extend_signal" json:"extend_signal"`
	RetractSignal int     `yaml:"retract_signal" json:"retract_signal"`
	NeedlesPause  float64 `yaml:"needles_pause" json:"needles_pause"` // seconds
}

// DistSensorTool is the TCP of the distance sensor. No serial port means no
// sensor is fitted.
type DistSensorTool struct {
	Name       string `yaml:"name" json:"name"`
	SerialPort string `yaml:"serial_port" json:"serial_port"`
	BaudRate   int    `yaml:"baud_rate" json:"baud_rate"`
}

// Enabled reports whether a sensor port is configured.
func (d DistSensorTool) Enabled() bool { return d.SerialPort != "" }

// SerialOptions returns the line settings for the sensor port.
func (d DistSensorTool) SerialOptions() serialport.Options {
	return serialport.Options{BaudRate: d.BaudRate}
}

type WorkObjects struct {
	Pick  string `yaml:"pick" json:"pick"`
	Place string `yaml:"place" json:"place"`
}

type GlobalSpeedAccel struct {
	Accel         float64 `yaml:"accel" json:"accel"`
	AccelRamp     float64 `yaml:"accel_ramp" json:"accel_ramp"`
	SpeedOverride float64 `yaml:"speed_override" json:"speed_override"`
	SpeedMaxTCP   float64 `yaml:"speed_max_tcp" json:"speed_max_tcp"`
}

type JointPositions struct {
	Start []float64 `yaml:"start" json:"start"`
	End   []float64 `yaml:"end" json:"end"`
}

// Speed values are TCP speeds in mm/s.
type Speed struct {
	Travel  float64 `yaml:"travel" json:"travel"`
	Precise float64 `yaml:"precise" json:"precise"`
}

// Zone values are in mm; -1 stops exactly on target.
type Zone struct {
	Travel      float64 `yaml:"travel" json:"travel"`
	Precise     float64 `yaml:"precise" json:"precise"`
	AbsJPrecise float64 `yaml:"absj_precise" json:"absj_precise"`
}

type RobotMovement struct {
	GlobalSpeedAccel GlobalSpeedAccel `yaml:"global_speed_accel" json:"global_speed_accel"`
	SetJointPos      JointPositions   `yaml:"set_joint_pos" json:"set_joint_pos"`
	Speed            Speed            `yaml:"speed" json:"speed"`
	Zone             Zone             `yaml:"zone" json:"zone"`
}

// Docker describes the driver container and how it is recovered.
type Docker struct {
	Container    string  `yaml:"container" json:"container"`
	Host         string  `yaml:"host" json:"host"`
	SSHUser      string  `yaml:"ssh_user" json:"ssh_user"`
	SSHKey       string  `yaml:"ssh_key" json:"ssh_key"`
	TimeoutPing  float64 `yaml:"timeout_ping" json:"timeout_ping"`     // seconds
	SleepAfterUp float64 `yaml:"sleep_after_up" json:"sleep_after_up"` // seconds
	Tries        int     `yaml:"tries" json:"tries"`
	DryRun       bool    `yaml:"dry_run" json:"dry_run"`
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// PingTimeout is how long a ping waits for the controller.
func (d Docker) PingTimeout() time.Duration { return seconds(d.TimeoutPing) }

// SettleTime is how long to wait after a container restart.
func (d Docker) SettleTime() time.Duration { return seconds(d.SleepAfterUp) }

// Measurement bounds the height corrections made from sensor readings.
type Measurement struct {
	MaxZDiff      float64 `yaml:"max_z_diff" json:"max_z_diff"`
	MinCorrection float64 `yaml:"min_correction" json:"min_correction"`
	// Expected overrides the expected sensor reading. Nil means the
	// element's egress distance.
	Expected *float64 `yaml:"expected" json:"expected"`
}

// Link is the connection to the controller.
type Link struct {
	Address  string  `yaml:"address" json:"address"`
	BaudRate int     `yaml:"baud_rate" json:"baud_rate"`
	Timeout  float64 `yaml:"timeout" json:"timeout"` // seconds
	// Watch bounds the wait for the pick and place times of one element,
	// which includes the whole motion.
	Watch float64 `yaml:"watch_timeout" json:"watch_timeout"` // seconds
}

// CommandTimeout bounds blocking commands.
func (l Link) CommandTimeout() time.Duration { return seconds(l.Timeout) }

// WatchTimeout bounds the wait for a ReadWatch answer.
func (l Link) WatchTimeout() time.Duration { return seconds(l.Watch) }

// DefaultRobotConfig returns the configuration used for any field a file
// does not set.
func DefaultRobotConfig() *RobotConfig {
	return &RobotConfig{
		Tools: Tools{
			PickPlace: PickPlaceTool{
				Name:          "t_rcf_pick_place",
				IONeedles:     "doUnitR11Out1",
				ExtendSignal:  1,
				RetractSignal: 0,
				NeedlesPause:  0.5,
			},
			DistSensor: DistSensorTool{
				Name:     "t_rcf_dist_sensor",
				BaudRate: 115200,
			},
		},
		Wobjs: WorkObjects{Pick: "ob_rcf_pick", Place: "ob_rcf_place"},
		RobotMovement: RobotMovement{
			GlobalSpeedAccel: GlobalSpeedAccel{Accel: 100, AccelRamp: 100, SpeedOverride: 100, SpeedMaxTCP: 1000},
			SetJointPos: JointPositions{
				Start: []float64{0, 0, 0, 0, 90, 0},
				End:   []float64{0, 0, 0, 0, 90, 0},
			},
			Speed: Speed{Travel: 500, Precise: 50},
			Zone:  Zone{Travel: 10, Precise: 0, AbsJPrecise: -1},
		},
		Docker: Docker{
			Container:    "abb-driver",
			TimeoutPing:  10,
			SleepAfterUp: 2,
			Tries:        3,
		},
		Measurement: Measurement{MaxZDiff: 20, MinCorrection: 0.5},
		Link:        Link{Address: "tcp://localhost:30101", Timeout: 10, Watch: 300},
	}
}

// LoadRobotConfig reads a YAML or JSON file on top of DefaultRobotConfig,
// normalises it and validates the result.
func LoadRobotConfig(path string) (*RobotConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return nil, fmt.Errorf("config file must have .yaml, .yml or .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseRobotConfig(data, ext == ".json")
}

// ParseRobotConfig decodes data on top of the defaults.
func ParseRobotConfig(data []byte, isJSON bool) (*RobotConfig, error) {
	cfg := DefaultRobotConfig()
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Normalize tidies values that have an obvious meaning.
func (c *RobotConfig) Normalize() {
	c.Docker.Container = strings.TrimSpace(c.Docker.Container)
	if c.Docker.Container == "" {
		c.Docker.Container = "abb-driver"
	}
	if c.Docker.Tries <= 0 {
		c.Docker.Tries = 1
	}
	c.Tools.DistSensor.SerialPort = strings.TrimSpace(c.Tools.DistSensor.SerialPort)
	c.Link.Address = strings.TrimSpace(c.Link.Address)
	if c.Link.Timeout <= 0 {
		c.Link.Timeout = 10
	}
	if c.Link.Watch <= 0 {
		c.Link.Watch = 300
	}
}

// Validate checks that the configuration values are usable.
func (c *RobotConfig) Validate() error {
	if c.Tools.PickPlace.Name == "" {
		return errors.New("tools.pick_place.name is required")
	}
	if c.Tools.PickPlace.IONeedles == "" {
		return errors.New("tools.pick_place.io_needles is required")
	}
	if c.Tools.PickPlace.NeedlesPause < 0 {
		return fmt.Errorf("tools.pick_place.needles_pause must be non-negative, got %f", c.Tools.PickPlace.NeedlesPause)
	}
	if c.Tools.DistSensor.Enabled() {
		if c.Tools.DistSensor.Name == "" {
			return errors.New("tools.dist_sensor.name is required when a serial port is set")
		}
		if _, err := c.Tools.DistSensor.SerialOptions().Normalise(); err != nil {
			return fmt.Errorf("tools.dist_sensor: %w", err)
		}
	}
	if c.Wobjs.Pick == "" || c.Wobjs.Place == "" {
		return errors.New("wobjs.pick and wobjs.place are required")
	}

	mv := c.RobotMovement
	for name, v := range map[string]float64{
		"accel":          mv.GlobalSpeedAccel.Accel,
		"accel_ramp":     mv.GlobalSpeedAccel.AccelRamp,
		"speed_override": mv.GlobalSpeedAccel.SpeedOverride,
	} {
		if v <= 0 || v > 100 {
			return fmt.Errorf("robot_movement.global_speed_accel.%s must be in (0, 100], got %f", name, v)
		}
	}
	if mv.GlobalSpeedAccel.SpeedMaxTCP <= 0 {
		return fmt.Errorf("robot_movement.global_speed_accel.speed_max_tcp must be positive, got %f", mv.GlobalSpeedAccel.SpeedMaxTCP)
	}
	if len(mv.SetJointPos.Start) != 6 || len(mv.SetJointPos.End) != 6 {
		return fmt.Errorf("robot_movement.set_joint_pos start and end need 6 joint values, got %d and %d",
			len(mv.SetJointPos.Start), len(mv.SetJointPos.End))
	}
	if mv.Speed.Travel <= 0 || mv.Speed.Precise <= 0 {
		return errors.New("robot_movement.speed travel and precise must be positive")
	}
	for name, z := range map[string]float64{"travel": mv.Zone.Travel, "precise": mv.Zone.Precise, "absj_precise": mv.Zone.AbsJPrecise} {
		if z < -1 {
			return fmt.Errorf("robot_movement.zone.%s must be -1 (fine) or a distance, got %f", name, z)
		}
	}

	if c.Docker.TimeoutPing <= 0 {
		return fmt.Errorf("docker.timeout_ping must be positive, got %f", c.Docker.TimeoutPing)
	}
	if c.Docker.SleepAfterUp < 0 {
		return fmt.Errorf("docker.sleep_after_up must be non-negative, got %f", c.Docker.SleepAfterUp)
	}

	if c.Measurement.MaxZDiff < 0 || c.Measurement.MinCorrection < 0 {
		return errors.New("measurement.max_z_diff and measurement.min_correction must be non-negative")
	}
	if c.Measurement.MinCorrection > c.Measurement.MaxZDiff {
		return fmt.Errorf("measurement.min_correction (%f) exceeds max_z_diff (%f)", c.Measurement.MinCorrection, c.Measurement.MaxZDiff)
	}

	if !strings.HasPrefix(c.Link.Address, "tcp://") && !strings.HasPrefix(c.Link.Address, "serial://") {
		return fmt.Errorf("link.address must start with tcp:// or serial://, got %q", c.Link.Address)
	}
	if strings.HasPrefix(c.Link.Address, "serial://") {
		if _, err := (serialport.Options{BaudRate: c.Link.BaudRate}).Normalise(); err != nil {
			return fmt.Errorf("link: %w", err)
		}
	}
	return nil
}
