package hostexec

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const guestAgentUnit = `[Unit]
Description=fleetforge guest agent
After=network.target

[Service]
ExecStart=/usr/local/bin/fleetforge-guestagent
Restart=always

[Install]
WantedBy=multi-user.target
`

// InjectCredentials loopback-mounts rootfsPath, optionally overwrites the
// shadow entry for credUser with credHash (skipped when credUser is
// empty), writes the guest agent's config and a systemd unit that
// autostarts it, then unmounts — guaranteed on every exit path via defer,
// since a failed unmount would leave the volume loop-attached and
// unusable for boot. The guest agent config is written on every call,
// with or without a credential, since every VM needs it to report its IP.
// functionSourcePath and reloadCommand are non-empty only for VMs booted
// from a function-vm template; they flow straight into the config file's
// write-code fields.
func InjectCredentials(rootfsPath, mountPoint, credUser, credHash, managerURL, vmID, functionSourcePath string, reloadCommand []string) error {
	if err := Mount(rootfsPath, mountPoint); err != nil {
		return fmt.Errorf("mount rootfs for credential injection: %w", err)
	}
	defer func() {
		if err := Unmount(mountPoint); err != nil {
			// best-effort: surfaced via the Agent's own logging, not
			// returned, since the primary operation may have already
			// succeeded or failed on its own terms.
			_ = err
		}
	}()

	if credUser != "" {
		if err := overwriteShadowEntry(filepath.Join(mountPoint, "etc", "shadow"), credUser, credHash); err != nil {
			return fmt.Errorf("overwrite shadow entry: %w", err)
		}
	}

	if err := writeGuestAgentConfig(mountPoint, vmID, managerURL, functionSourcePath, reloadCommand); err != nil {
		return fmt.Errorf("write guest agent config: %w", err)
	}

	if err := installGuestAgentUnit(mountPoint); err != nil {
		return fmt.Errorf("install guest agent unit: %w", err)
	}

	return nil
}

// overwriteShadowEntry replaces credUser's password hash field (the
// second colon-separated field) in an /etc/shadow file, leaving every
// other user's entry and every other field untouched.
func overwriteShadowEntry(shadowPath, user, hash string) error {
	f, err := os.Open(shadowPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", shadowPath, err)
	}

	var lines []string
	found := false
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Split(line, ":")
		if len(fields) > 1 && fields[0] == user {
			fields[1] = hash
			line = strings.Join(fields, ":")
			found = true
		}
		lines = append(lines, line)
	}
	f.Close()
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", shadowPath, err)
	}
	if !found {
		lines = append(lines, fmt.Sprintf("%s:%s:19000:0:99999:7:::", user, hash))
	}

	return os.WriteFile(shadowPath, []byte(strings.Join(lines, "\n")+"\n"), 0o640)
}

func writeGuestAgentConfig(mountPoint, vmID, managerURL, functionSourcePath string, reloadCommand []string) error {
	dir := filepath.Join(mountPoint, "etc", "fleetforge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	content := fmt.Sprintf("vm_id=%s\nmanager_url=%s\n", vmID, managerURL)
	if functionSourcePath != "" {
		content += fmt.Sprintf("function_source_path=%s\n", functionSourcePath)
	}
	if len(reloadCommand) > 0 {
		content += fmt.Sprintf("reload_command=%s\n", strings.Join(reloadCommand, " "))
	}
	return os.WriteFile(filepath.Join(dir, "guestagent.conf"), []byte(content), 0o644)
}

func installGuestAgentUnit(mountPoint string) error {
	dir := filepath.Join(mountPoint, "etc", "systemd", "system")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	unitPath := filepath.Join(dir, "fleetforge-guestagent.service")
	if err := os.WriteFile(unitPath, []byte(guestAgentUnit), 0o644); err != nil {
		return err
	}

	wantsDir := filepath.Join(mountPoint, "etc", "systemd", "system", "multi-user.target.wants")
	if err := os.MkdirAll(wantsDir, 0o755); err != nil {
		return err
	}
	link := filepath.Join(wantsDir, "fleetforge-guestagent.service")
	os.Remove(link)
	return os.Symlink("../fleetforge-guestagent.service", link)
}
