package repo

import (
	"context"
	"database/sql"

	"guildpay/internal/domain"
)

const projectCols = `id,guild_id,contributor,treasury,currency,total_amount,allocated_amount,released_amount,is_sequential,status,created_at`

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO projects(guild_id,contributor,treasury,currency,total_amount,allocated_amount,released_amount,is_sequential,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.GuildID, p.Contributor, p.Treasury, p.Currency, p.TotalAmount, p.AllocatedAmount, p.ReleasedAmount, p.IsSequential, p.Status, p.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET total_amount=?, allocated_amount=?, released_amount=?, status=? WHERE id=?`,
		p.TotalAmount, p.AllocatedAmount, p.ReleasedAmount, p.Status, p.ID)
	return err
}

func scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	err := scan(&p.ID, &p.GuildID, &p.Contributor, &p.Treasury, &p.Currency, &p.TotalAmount, &p.AllocatedAmount,
		&p.ReleasedAmount, &p.IsSequential, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) ListGuildProjects(ctx context.Context, guildID int64) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectCols+` FROM projects WHERE guild_id=? ORDER BY id`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

const milestoneCols = `id,project_id,order_index,title,description,payment_amount,deadline,status,proof_url,created_at,submitted_at,last_updated_at,version,payment_released`

func (r Repo) InsertMilestoneTx(ctx context.Context, tx *sql.Tx, m domain.Milestone) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO milestones(project_id,order_index,title,description,payment_amount,deadline,status,proof_url,created_at,submitted_at,last_updated_at,version,payment_released)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ProjectID, m.OrderIndex, m.Title, nullable(m.Description), m.PaymentAmount, m.Deadline, m.Status,
		nullableStringPtr(m.ProofURL), m.CreatedAt, nullableInt64Ptr(m.SubmittedAt), m.LastUpdatedAt, m.Version, m.PaymentReleased)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateMilestoneTx(ctx context.Context, tx *sql.Tx, m domain.Milestone) error {
	_, err := tx.ExecContext(ctx, `UPDATE milestones SET deadline=?, status=?, proof_url=?, submitted_at=?, last_updated_at=?, version=?, payment_released=? WHERE id=?`,
		m.Deadline, m.Status, nullableStringPtr(m.ProofURL), nullableInt64Ptr(m.SubmittedAt), m.LastUpdatedAt, m.Version, m.PaymentReleased, m.ID)
	return err
}

func scanMilestone(scan func(dest ...any) error) (domain.Milestone, error) {
	var m domain.Milestone
	var desc, proof sql.NullString
	var submitted sql.NullInt64
	err := scan(&m.ID, &m.ProjectID, &m.OrderIndex, &m.Title, &desc, &m.PaymentAmount, &m.Deadline, &m.Status,
		&proof, &m.CreatedAt, &submitted, &m.LastUpdatedAt, &m.Version, &m.PaymentReleased)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if desc.Valid {
		m.Description = desc.String
	}
	if proof.Valid {
		m.ProofURL = &proof.String
	}
	if submitted.Valid {
		m.SubmittedAt = &submitted.Int64
	}
	return m, nil
}

func (r Repo) GetMilestone(ctx context.Context, id int64) (domain.Milestone, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+milestoneCols+` FROM milestones WHERE id=?`, id)
	return scanMilestone(row.Scan)
}

func (r Repo) GetMilestoneTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Milestone, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+milestoneCols+` FROM milestones WHERE id=?`, id)
	return scanMilestone(row.Scan)
}

func (r Repo) ListProjectMilestones(ctx context.Context, projectID int64) ([]domain.Milestone, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+milestoneCols+` FROM milestones WHERE project_id=? ORDER BY order_index`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMilestones(rows)
}

func (r Repo) ListProjectMilestonesTx(ctx context.Context, tx *sql.Tx, projectID int64) ([]domain.Milestone, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+milestoneCols+` FROM milestones WHERE project_id=? ORDER BY order_index`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMilestones(rows)
}

func collectMilestones(rows *sql.Rows) ([]domain.Milestone, error) {
	var res []domain.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// PrecedingMilestoneTx returns the milestone with the largest order index
// strictly below orderIndex in the project, or ErrNotFound when none exists.
func (r Repo) PrecedingMilestoneTx(ctx context.Context, tx *sql.Tx, projectID int64, orderIndex int) (domain.Milestone, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+milestoneCols+` FROM milestones WHERE project_id=? AND order_index<? ORDER BY order_index DESC LIMIT 1`,
		projectID, orderIndex)
	return scanMilestone(row.Scan)
}

// NextOrderIndexTx returns the order index for a milestone appended now.
func (r Repo) NextOrderIndexTx(ctx context.Context, tx *sql.Tx, projectID int64) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(order_index)+1,0) FROM milestones WHERE project_id=?`, projectID).Scan(&next)
	return next, err
}

// CountMilestonesByStatusTx returns (matching, total) for a project.
func (r Repo) CountMilestonesByStatusTx(ctx context.Context, tx *sql.Tx, projectID int64, status string) (int, int, error) {
	var matching, total int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END),0), count(*) FROM milestones WHERE project_id=?`,
		status, projectID).Scan(&matching, &total)
	return matching, total, err
}

func (r Repo) CountMilestonesByStatus(ctx context.Context, projectID int64, status string) (int, int, error) {
	var matching, total int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END),0), count(*) FROM milestones WHERE project_id=?`,
		status, projectID).Scan(&matching, &total)
	return matching, total, err
}
