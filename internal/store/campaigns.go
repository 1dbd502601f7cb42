package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kyaraben/kyaraben/internal/domain"
)

// CampaignInsert stores the campaign and its expanded testruns in one
// transaction. The caller has already assigned IDs and resolved hwconfigs.
func (s *Store) CampaignInsert(ctx context.Context, c domain.Campaign, runs []domain.Testrun) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin campaign insert: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO campaigns (campaign_id, project_id, campaign_name, status)
		VALUES ($1, $2, $3, 'QUEUED')
	`, c.CampaignID, c.ProjectID, c.CampaignName)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	for _, run := range runs {
		hwconfig, err := json.Marshal(run.HWConfig)
		if err != nil {
			return fmt.Errorf("encode hwconfig: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO testruns (testrun_id, campaign_id, image, hwconfig)
			VALUES ($1, $2, $3, $4)
		`, run.TestrunID, c.CampaignID, run.Image, hwconfig)
		if err != nil {
			return fmt.Errorf("insert testrun: %w", err)
		}

		for order, apkID := range run.APKIDs {
			_, err = tx.Exec(ctx, `
				INSERT INTO testrun_apks (testrun_id, apk_id, install_order)
				VALUES ($1, $2, $3)
			`, run.TestrunID, apkID, order)
			if err != nil {
				return fmt.Errorf("insert testrun apk: %w", err)
			}
		}
		for _, pkg := range run.Packages {
			_, err = tx.Exec(ctx, `
				INSERT INTO testrun_packages (testrun_id, package)
				VALUES ($1, $2)
			`, run.TestrunID, pkg)
			if err != nil {
				return fmt.Errorf("insert testrun package: %w", err)
			}
		}
	}

	return tx.Commit(ctx)
}

// CampaignGet returns the campaign if its project is visible to the user.
func (s *Store) CampaignGet(ctx context.Context, userid, campaignID string) (*domain.Campaign, error) {
	var c domain.Campaign
	err := s.pool.QueryRow(ctx, `
		SELECT c.campaign_id, c.project_id, c.campaign_name, c.status
		  FROM campaigns c
		  JOIN permission_projects perm
		    ON perm.project_id = c.project_id AND perm.userid = $1
		 WHERE c.campaign_id = $2
	`, userid, campaignID).Scan(&c.CampaignID, &c.ProjectID, &c.CampaignName, &c.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return &c, nil
}

// CampaignList returns the project's non-deleted campaigns.
func (s *Store) CampaignList(ctx context.Context, userid, projectID string) ([]domain.Campaign, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.campaign_id, c.project_id, c.campaign_name, c.status
		  FROM campaigns c
		  JOIN permission_projects perm
		    ON perm.project_id = c.project_id AND perm.userid = $1
		 WHERE c.project_id = $2 AND c.status <> 'DELETED'
		 ORDER BY c.campaign_name
	`, userid, projectID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(&c.CampaignID, &c.ProjectID, &c.CampaignName, &c.Status); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CampaignSetStatus moves the campaign state machine. Status reason is
// projected through the generic SetStatus path on failure; this mutator is
// for the regular transitions.
func (s *Store) CampaignSetStatus(ctx context.Context, campaignID, status string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE campaigns
		   SET status = $2, status_ts = transaction_timestamp()
		 WHERE campaign_id = $1
	`, campaignID, status)
	if err != nil {
		return fmt.Errorf("set campaign status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("campaign %s: %w", campaignID, ErrNotFound)
	}
	return nil
}

// CampaignTestruns returns the testrun IDs of one campaign.
func (s *Store) CampaignTestruns(ctx context.Context, campaignID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT testrun_id FROM testruns WHERE campaign_id = $1 ORDER BY testrun_id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list testruns: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan testrun: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// TestrunGet returns one testrun with its APKs in install order and its
// declared or discovered packages.
func (s *Store) TestrunGet(ctx context.Context, testrunID string) (*domain.Testrun, error) {
	var run domain.Testrun
	var hwconfig []byte
	err := s.pool.QueryRow(ctx, `
		SELECT testrun_id, campaign_id, image, hwconfig
		  FROM testruns WHERE testrun_id = $1
	`, testrunID).Scan(&run.TestrunID, &run.CampaignID, &run.Image, &hwconfig)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("testrun %s: %w", testrunID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get testrun: %w", err)
	}
	if err := json.Unmarshal(hwconfig, &run.HWConfig); err != nil {
		return nil, fmt.Errorf("decode hwconfig: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT apk_id FROM testrun_apks
		 WHERE testrun_id = $1 ORDER BY install_order
	`, testrunID)
	if err != nil {
		return nil, fmt.Errorf("list testrun apks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var apkID string
		if err := rows.Scan(&apkID); err != nil {
			return nil, fmt.Errorf("scan testrun apk: %w", err)
		}
		run.APKIDs = append(run.APKIDs, apkID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pkgRows, err := s.pool.Query(ctx, `
		SELECT package FROM testrun_packages
		 WHERE testrun_id = $1 ORDER BY package
	`, testrunID)
	if err != nil {
		return nil, fmt.Errorf("list testrun packages: %w", err)
	}
	defer pkgRows.Close()
	for pkgRows.Next() {
		var pkg string
		if err := pkgRows.Scan(&pkg); err != nil {
			return nil, fmt.Errorf("scan testrun package: %w", err)
		}
		run.Packages = append(run.Packages, pkg)
	}
	return &run, pkgRows.Err()
}

// TestrunAddPackage persists a package discovered on the VM. Redelivery of
// the discovery step must not duplicate rows.
func (s *Store) TestrunAddPackage(ctx context.Context, testrunID, pkg string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO testrun_packages (testrun_id, package)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, testrunID, pkg)
	if err != nil {
		return fmt.Errorf("add testrun package: %w", err)
	}
	return nil
}

// TestrunSetAPKCommand links the install command to the testrun APK. Once
// set, the command_id is never overwritten.
func (s *Store) TestrunSetAPKCommand(ctx context.Context, testrunID, apkID, commandID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE testrun_apks SET command_id = $3
		 WHERE testrun_id = $1 AND apk_id = $2 AND command_id IS NULL
	`, testrunID, apkID, commandID)
	if err != nil {
		return fmt.Errorf("set testrun apk command: %w", err)
	}
	return nil
}

// TestrunSetPackageCommand links the instrument command to the testrun
// package, write-once like the APK variant.
func (s *Store) TestrunSetPackageCommand(ctx context.Context, testrunID, pkg, commandID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE testrun_packages SET command_id = $3
		 WHERE testrun_id = $1 AND package = $2 AND command_id IS NULL
	`, testrunID, pkg, commandID)
	if err != nil {
		return fmt.Errorf("set testrun package command: %w", err)
	}
	return nil
}

// campaignCommandsQuery joins every command slot of a campaign, APK installs
// and package runs alike. A slot without a command row yet reads as QUEUED.
const campaignCommandsQuery = `
	SELECT COALESCE(c.status, 'QUEUED')
	  FROM testruns t
	  JOIN testrun_apks ta ON ta.testrun_id = t.testrun_id
	  LEFT JOIN avm_commands c ON c.command_id = ta.command_id
	 WHERE t.campaign_id = $1
	 UNION ALL
	SELECT COALESCE(c.status, 'QUEUED')
	  FROM testruns t
	  JOIN testrun_packages tp ON tp.testrun_id = t.testrun_id
	  LEFT JOIN avm_commands c ON c.command_id = tp.command_id
	 WHERE t.campaign_id = $1`

// CampaignCommandStatuses returns one status per command slot of the
// campaign. The campaign is READY exactly when all of them are READY.
func (s *Store) CampaignCommandStatuses(ctx context.Context, campaignID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, campaignCommandsQuery, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign command statuses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return nil, fmt.Errorf("scan command status: %w", err)
		}
		out = append(out, status)
	}
	return out, rows.Err()
}

// CampaignResource is one VM spawned for a campaign, with the stack backing
// it, used by the campaign teardown.
type CampaignResource struct {
	AVMID     string
	StackName string
}

// CampaignResources returns the live VMs spawned for the campaign.
func (s *Store) CampaignResources(ctx context.Context, campaignID string) ([]CampaignResource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT avm_id, COALESCE(stack_name, '')
		  FROM campaign_resources WHERE campaign_id = $1
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign resources: %w", err)
	}
	defer rows.Close()

	var out []CampaignResource
	for rows.Next() {
		var r CampaignResource
		if err := rows.Scan(&r.AVMID, &r.StackName); err != nil {
			return nil, fmt.Errorf("scan campaign resource: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CampaignResults builds the user-facing rollup: one line per package run
// with its instrument output, plus the overall progress ratio.
func (s *Store) CampaignResults(ctx context.Context, userid, campaignID string) (*domain.CampaignResults, error) {
	campaign, err := s.CampaignGet(ctx, userid, campaignID)
	if err != nil {
		return nil, err
	}

	results := &domain.CampaignResults{
		ProjectID:      campaign.ProjectID,
		CampaignID:     campaign.CampaignID,
		CampaignName:   campaign.CampaignName,
		CampaignStatus: campaign.Status,
		Tests:          []domain.CampaignTestResult{},
	}

	statuses, err := s.CampaignCommandStatuses(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if len(statuses) > 0 {
		ready := 0
		for _, status := range statuses {
			if status == domain.StatusReady {
				ready++
			}
		}
		results.Progress = float64(ready) / float64(len(statuses))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT t.image, t.hwconfig, tp.package,
		       COALESCE(c.status, 'QUEUED'), COALESCE(c.proc_stdout, '')
		  FROM testruns t
		  JOIN testrun_packages tp ON tp.testrun_id = t.testrun_id
		  LEFT JOIN avm_commands c ON c.command_id = tp.command_id
		 WHERE t.campaign_id = $1
		 ORDER BY t.image, tp.package
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r domain.CampaignTestResult
		var hwconfig []byte
		if err := rows.Scan(&r.Image, &hwconfig, &r.Package, &r.Status, &r.Stdout); err != nil {
			return nil, fmt.Errorf("scan campaign result: %w", err)
		}
		if err := json.Unmarshal(hwconfig, &r.HWConfig); err != nil {
			return nil, fmt.Errorf("decode hwconfig: %w", err)
		}
		results.Tests = append(results.Tests, r)
	}
	return results, rows.Err()
}
