package docker

import (
	"context"
	"strconv"

	"github.com/kyaraben/kyaraben/internal/domain"
	"github.com/kyaraben/kyaraben/internal/logging"
)

// PlayerEnv holds everything the player compose template projects into its
// containers.
type PlayerEnv struct {
	ProjectID      string
	AVMID          string
	InstanceIP     string
	HWConfig       domain.HWConfig
	AMQPHost       string
	AMQPUser       string
	AMQPPassword   string
	AndroidVersion string
	VNCSecret      string
}

func playerVars(p PlayerEnv) map[string]string {
	hc := p.HWConfig
	maxDim := hc.Width
	if hc.Height > maxDim {
		maxDim = hc.Height
	}
	return map[string]string{
		"AIC_AVM_PREFIX":             p.AVMID + "_",
		"AIC_PROJECT_PREFIX":         p.ProjectID + "_",
		"AIC_PLAYER_VM_ID":           p.AVMID,
		"AIC_PLAYER_VM_HOST":         p.InstanceIP,
		"AIC_PLAYER_AMQP_HOST":       p.AMQPHost,
		"AIC_PLAYER_AMQP_USERNAME":   p.AMQPUser,
		"AIC_PLAYER_AMQP_PASSWORD":   p.AMQPPassword,
		"AIC_PLAYER_WIDTH":           strconv.Itoa(hc.Width),
		"AIC_PLAYER_HEIGHT":          strconv.Itoa(hc.Height),
		"AIC_PLAYER_MAX_DIMENSION":   strconv.Itoa(maxDim),
		"AIC_PLAYER_DPI":             strconv.Itoa(hc.DPI),
		"AIC_PLAYER_VNC_SECRET":      p.VNCSecret,
		"AIC_PLAYER_ENABLE_SENSORS":  strconv.Itoa(hc.EnableSensors),
		"AIC_PLAYER_ENABLE_BATTERY":  strconv.Itoa(hc.EnableBattery),
		"AIC_PLAYER_ENABLE_GPS":      strconv.Itoa(hc.EnableGPS),
		"AIC_PLAYER_ENABLE_CAMERA":   strconv.Itoa(hc.EnableCamera),
		"AIC_PLAYER_ENABLE_RECORD":   strconv.Itoa(hc.EnableRecord),
		"AIC_PLAYER_ENABLE_GSM":      strconv.Itoa(hc.EnableGSM),
		"AIC_PLAYER_ENABLE_NFC":      strconv.Itoa(hc.EnableNFC),
		"AIC_PLAYER_ANDROID_VERSION": p.AndroidVersion,
		"AIC_PLAYER_PATH_RECORD":     "/data/avm/log/",
	}
}

// PlayerUp brings up the player container group of an AVM.
func (c *Client) PlayerUp(ctx context.Context, p PlayerEnv) error {
	logging.Op().Debug("creating player containers", "avm_id", p.AVMID)
	return c.compose(ctx, playerVars(p),
		"-f", "run-player.yml",
		"--project-name", "avm-"+p.AVMID,
		"up", "--no-color", "--no-build", "-d")
}

// PlayerDown kills and removes the player container group.
func (c *Client) PlayerDown(ctx context.Context, projectID, avmID string) error {
	logging.Op().Debug("removing player containers", "avm_id", avmID)
	env := map[string]string{
		"AIC_AVM_PREFIX":     avmID + "_",
		"AIC_PROJECT_PREFIX": projectID + "_",
	}
	if err := c.compose(ctx, env,
		"-f", "run-player.yml",
		"--project-name", "avm-"+avmID,
		"kill"); err != nil {
		return err
	}
	return c.compose(ctx, env,
		"-f", "run-player.yml",
		"--project-name", "avm-"+avmID,
		"down", "-v")
}

// ProjectUp brings up the project data container group.
func (c *Client) ProjectUp(ctx context.Context, projectID string) error {
	logging.Op().Info("creating project container", "project_id", projectID)
	return c.compose(ctx,
		map[string]string{"AIC_PROJECT_PREFIX": projectID + "_"},
		"-f", "run-project.yml",
		"--project-name", "project-"+projectID,
		"up", "--no-color", "--no-build", "-d")
}

// ProjectDown kills and removes the project data container group.
func (c *Client) ProjectDown(ctx context.Context, projectID string) error {
	logging.Op().Info("removing project container", "project_id", projectID)
	env := map[string]string{"AIC_PROJECT_PREFIX": projectID + "_"}
	if err := c.compose(ctx, env,
		"-f", "run-project.yml",
		"--project-name", "project-"+projectID,
		"kill"); err != nil {
		return err
	}
	return c.compose(ctx, env,
		"-f", "run-project.yml",
		"--project-name", "project-"+projectID,
		"down", "-v")
}
