package atlantean

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// The container runtime on Container-Optimized OS (konlet) reads a
// kubernetes-style declaration from instance metadata and mounts persistent
// disks under this path before starting the container.
const containerMountRoot = "/mnt/disks/gce-containers-mounts/gce-persistent-disks"

// The Atlantis image runs as uid/gid 100:1000 (user "atlantis"). A fresh
// ext4 mount is owned by root, so a boot-time unit has to hand it over
// before Atlantis can write its working directory.
const atlantisOwner = "100:1000"

const envFilePath = "/etc/atlantis/atlantis.env"

type containerDeclaration struct {
	Spec containerSpec `yaml:"spec"`
}

type containerSpec struct {
	Containers    []container       `yaml:"containers"`
	Volumes       []containerVolume `yaml:"volumes,omitempty"`
	RestartPolicy string            `yaml:"restartPolicy"`
}

type container struct {
	Name         string           `yaml:"name"`
	Image        string           `yaml:"image"`
	Env          []containerEnv   `yaml:"env,omitempty"`
	VolumeMounts []containerMount `yaml:"volumeMounts,omitempty"`
}

type containerEnv struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type containerMount struct {
	Name      string `yaml:"name"`
	MountPath string `yaml:"mountPath"`
	ReadOnly  bool   `yaml:"readOnly,omitempty"`
}

type containerVolume struct {
	Name              string             `yaml:"name"`
	GCEPersistentDisk *gcePersistentDisk `yaml:"gcePersistentDisk,omitempty"`
	HostPath          *hostPath          `yaml:"hostPath,omitempty"`
}

type gcePersistentDisk struct {
	PDName string `yaml:"pdName"`
	FSType string `yaml:"fsType"`
}

type hostPath struct {
	Path string `yaml:"path"`
}

// renderContainerDeclaration builds the gce-container-declaration metadata
// value. In ephemeral mode the full environment rides along as container
// env entries; in env-file mode the container instead mounts the directory
// holding the boot-written env file.
func renderContainerDeclaration(
	name, image, diskDevice string,
	env EnvVars,
	mode Mode,
) (string, error) {
	c := container{
		Name:  name,
		Image: image,
		VolumeMounts: []containerMount{{
			Name:      diskDevice,
			MountPath: env.DataDir(),
		}},
	}
	volumes := []containerVolume{{
		Name: diskDevice,
		GCEPersistentDisk: &gcePersistentDisk{
			PDName: diskDevice,
			FSType: "ext4",
		},
	}}

	switch mode {
	case ModeEphemeral:
		for _, k := range env.sortedKeys() {
			c.Env = append(c.Env, containerEnv{
				Name:  k,
				Value: env[k],
			})
		}
	case ModeEnvFile:
		c.VolumeMounts = append(c.VolumeMounts, containerMount{
			Name:      "atlantis-env",
			MountPath: "/etc/atlantis",
			ReadOnly:  true,
		})
		volumes = append(volumes, containerVolume{
			Name:     "atlantis-env",
			HostPath: &hostPath{Path: "/etc/atlantis"},
		})
	default:
		return "", fmt.Errorf("unknown mode: %s", mode)
	}

	decl := containerDeclaration{
		Spec: containerSpec{
			Containers:    []container{c},
			Volumes:       volumes,
			RestartPolicy: "Always",
		},
	}
	byt, err := yaml.Marshal(decl)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return string(byt), nil
}

const cloudConfig = `#cloud-config

write_files:
- path: %s
  permissions: 0644
  owner: root
  content: |
%s
- path: /etc/systemd/system/atlantis-data-ownership.service
  permissions: 0644
  owner: root
  content: |
    [Unit]
    Description=Fix ownership of the Atlantis data mount
    Requires=konlet-startup.service
    After=konlet-startup.service

    [Service]
    Restart=on-failure
    RestartSec=30
    ExecStart=/bin/chown -R %s %s/%s

    [Install]
    WantedBy=multi-user.target

runcmd:
- systemctl daemon-reload
- systemctl start atlantis-data-ownership.service`

// renderCloudConfig builds the user-data payload for env-file mode: it
// writes the Atlantis env file and a one-shot unit that fixes ownership of
// the persistent-disk mount after konlet finishes mounting it. The mount is
// owned by root until then, so the unit retries every 30 seconds until the
// mount exists.
func renderCloudConfig(diskDevice string, env EnvVars) string {
	return fmt.Sprintf(cloudConfig,
		envFilePath,
		indent(env.file(), "    "),
		atlantisOwner, containerMountRoot, diskDevice)
}

// indent every non-empty line, as required inside a YAML literal block.
func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
