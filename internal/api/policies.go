package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"

	"github.com/anstrom/complyscan/internal/errors"
	"github.com/anstrom/complyscan/internal/logging"
)

const (
	tailoringContentType = "application/xml"
	tailoringFilePrefix  = "oscap_tailoring_file-"
	tailoringFilePerm    = 0600
)

// MinorVersion is an optional OS minor version. The service sends it either
// as a string or as a number; an absent or null value leaves it unset.
type MinorVersion struct {
	Value string
	Set   bool
}

// UnmarshalJSON accepts strings, numbers and null.
func (m *MinorVersion) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = MinorVersion{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = MinorVersion{Value: s, Set: true}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("os_minor_version: %w", err)
	}
	*m = MinorVersion{Value: n.String(), Set: true}
	return nil
}

// MarshalJSON writes the value as a string, or null when unset.
func (m MinorVersion) MarshalJSON() ([]byte, error) {
	if !m.Set {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

// Policy is a compliance policy assigned to the system.
type Policy struct {
	ID             string       `json:"id"`
	RefID          string       `json:"ref_id"`
	Title          string       `json:"title,omitempty"`
	OSMinorVersion MinorVersion `json:"os_minor_version"`
}

// AppliesTo reports whether the policy's tailoring is valid for the given
// host minor version. Policies without a minor version apply everywhere.
func (p Policy) AppliesTo(osMinorVersion string) bool {
	return !p.OSMinorVersion.Set || p.OSMinorVersion.Value == osMinorVersion
}

// System is an inventory record for a host.
type System struct {
	ID       string `json:"id"`
	FQDN     string `json:"fqdn,omitempty"`
	Reporter string `json:"reporter,omitempty"`
}

// TailoringOutcome records why a tailoring file was or was not produced.
type TailoringOutcome string

const (
	TailoringSaved       TailoringOutcome = "saved"
	TailoringSkipped     TailoringOutcome = "os_version_mismatch"
	TailoringNotTailored TailoringOutcome = "not_tailored"
	TailoringFailed      TailoringOutcome = "request_failed"
	TailoringInvalid     TailoringOutcome = "invalid_content"
)

// PolicyClient retrieves policies and tailoring files for this host.
type PolicyClient struct {
	session Getter
	tempDir string
	logger  *logging.Logger
}

// NewPolicyClient creates a policy client. Tailoring files are written to tempDir.
func NewPolicyClient(session Getter, tempDir string, logger *logging.Logger) *PolicyClient {
	if logger == nil {
		logger = logging.Default()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &PolicyClient{
		session: session,
		tempDir: tempDir,
		logger:  logger.WithComponent("policies"),
	}
}

// FindSystem looks up inventory records matching the host's machine id.
func (c *PolicyClient) FindSystem(ctx context.Context, machineID string) ([]System, error) {
	resp, err := c.session.Get(ctx, "/inventory/v1/hosts", url.Values{"insights_id": {machineID}})
	if err != nil {
		return nil, errors.WrapFatal(errors.CodeRequestFailed, "inventory lookup failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewFatal(errors.CodeInventoryLookup,
			fmt.Sprintf("inventory lookup returned status %d", resp.StatusCode))
	}

	var payload struct {
		Results []System `json:"results"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, errors.WrapFatal(errors.CodeInventoryLookup, "failed to decode inventory response", err)
	}
	return payload.Results, nil
}

// ListPolicies returns the policies assigned to the system. Any non-200
// response is treated as "no policies"; only transport and decoding
// failures are errors.
func (c *PolicyClient) ListPolicies(ctx context.Context, inventoryID string) ([]Policy, error) {
	path := fmt.Sprintf("/compliance/v2/systems/%s/policies", url.PathEscape(inventoryID))
	resp, err := c.session.Get(ctx, path, nil)
	if err != nil {
		return nil, errors.WrapFatal(errors.CodeRequestFailed, "policy listing failed", err)
	}
	c.logger.Debug("policies response", "status", resp.StatusCode, "body", string(resp.Body))

	if resp.StatusCode != http.StatusOK {
		return []Policy{}, nil
	}

	var payload struct {
		Data []Policy `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, errors.WrapFatal(errors.CodeRequestFailed, "failed to decode policies response", err)
	}
	if payload.Data == nil {
		return []Policy{}, nil
	}
	return payload.Data, nil
}

// DownloadTailoringFile fetches the policy's tailoring file for the host's
// minor version and stores it in a new temporary file. It returns the file
// path, or "" when the policy is not tailored or the download was rejected;
// the caller owns and must remove a returned file.
func (c *PolicyClient) DownloadTailoringFile(ctx context.Context, policy Policy, osMinorVersion string) (string, TailoringOutcome) {
	log := c.logger.WithPolicy(policy.RefID)

	if !policy.AppliesTo(osMinorVersion) {
		log.Debug("Policy targets a different OS minor version, skipping tailoring",
			"policy_minor", policy.OSMinorVersion.Value, "host_minor", osMinorVersion)
		return "", TailoringSkipped
	}

	log.Debug("Checking if policy is tailored, starting tailoring file download")

	path := fmt.Sprintf("/compliance/v2/policies/%s/tailorings/%s/tailoring_file",
		url.PathEscape(policy.ID), url.PathEscape(osMinorVersion))
	resp, err := c.session.Get(ctx, path, nil)
	if err != nil {
		log.Info("Something went wrong during downloading the tailoring file", "error", err)
		return "", TailoringFailed
	}
	log.Debug("Tailoring response", "status", resp.StatusCode)

	if resp.StatusCode == http.StatusNoContent {
		log.Debug("Policy is not tailored, continuing with default rule and value selections")
		return "", TailoringNotTailored
	}

	if resp.StatusCode != http.StatusOK {
		log.Info("Something went wrong during downloading the tailoring file",
			"expected_status", http.StatusOK, "status", resp.StatusCode)
		return "", TailoringFailed
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if len(resp.Body) == 0 || mediaType != tailoringContentType {
		log.Info("Problem with the content of the downloaded tailoring file, the expected format is xml",
			"content_type", contentType, "bytes", len(resp.Body))
		return "", TailoringInvalid
	}

	file, err := c.writeTailoringFile(policy.RefID, resp.Body)
	if err != nil {
		log.Info("Could not save the tailoring file", "error", err)
		return "", TailoringFailed
	}

	log.Info("Saved tailoring file", "path", file)
	log.Debug("Policy tailoring file download finished")
	return file, TailoringSaved
}

func (c *PolicyClient) writeTailoringFile(refID string, body []byte) (string, error) {
	f, err := os.CreateTemp(c.tempDir, tailoringFilePrefix+refID+".*.xml")
	if err != nil {
		return "", err
	}
	name := f.Name()

	if err := f.Chmod(tailoringFilePerm); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}
