package generation

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/genforge-dev/genforge/internal/fileutil"
	"github.com/genforge-dev/genforge/pkg/orcherr"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	domain TEXT NOT NULL DEFAULT '',
	tech_stack TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	auto_created INTEGER NOT NULL DEFAULT 0,
	creation_source TEXT NOT NULL DEFAULT '',
	original_prompt TEXT NOT NULL DEFAULT '',
	latest_version INTEGER NOT NULL DEFAULT 0,
	active_generation_id TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id);
CREATE INDEX IF NOT EXISTS idx_projects_auto_created ON projects(user_id, auto_created, name, created_at);

CREATE TABLE IF NOT EXISTS generations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	prompt TEXT NOT NULL,
	context TEXT,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	is_iteration INTEGER NOT NULL DEFAULT 0,
	parent_generation_id TEXT,
	storage_path TEXT NOT NULL DEFAULT '',
	file_count INTEGER NOT NULL DEFAULT 0,
	total_size_bytes INTEGER NOT NULL DEFAULT 0,
	output_files TEXT,
	diff_from_previous TEXT NOT NULL DEFAULT '',
	changes_summary TEXT,
	quality_score REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_generations_project ON generations(project_id, version);
CREATE INDEX IF NOT EXISTS idx_generations_parent ON generations(parent_generation_id);
`

// DB opens and owns the shared SQLite handle for both stores, grounded on
// the pack's database/sql idiom (busy_timeout + WAL + single-writer
// connection pool, since SQLite serializes writers regardless).
type DB struct {
	conn *sql.DB
}

// Open opens (creating if absent) a SQLite database at path and ensures the
// schema exists.
func Open(path string) (*DB, error) {
	if err := fileutil.EnsureDir(parentDir(path)); err != nil {
		return nil, orcherr.Wrap(orcherr.StorageError, "generation.DB", "create db directory", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.StorageError, "generation.DB", "open database", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, orcherr.Wrap(orcherr.StorageError, "generation.DB", "set busy_timeout", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, orcherr.Wrap(orcherr.StorageError, "generation.DB", "set journal_mode", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, orcherr.Wrap(orcherr.StorageError, "generation.DB", "apply schema", err)
	}
	return &DB{conn: conn}, nil
}

// Close releases the underlying database handle.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Projects returns the ProjectRepository view over this database.
func (d *DB) Projects() ProjectRepository {
	return &sqliteProjectRepository{db: d.conn}
}

// Generations returns the GenerationRepository view over this database.
func (d *DB) Generations() GenerationRepository {
	return &sqliteGenerationRepository{db: d.conn}
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// --- ProjectRepository ---

type sqliteProjectRepository struct {
	db *sql.DB
}

func (r *sqliteProjectRepository) Create(ctx context.Context, p *Project) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects
			(id, user_id, name, domain, tech_stack, status, auto_created, creation_source,
			 original_prompt, latest_version, active_generation_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Domain, p.TechStack, string(p.Status), boolToInt(p.AutoCreated),
		p.CreationSource, truncate(p.OriginalPrompt, OriginalPromptMaxChars), p.LatestVersion,
		nullableString(p.ActiveGenerationID), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return orcherr.Wrap(orcherr.StorageError, "generation.ProjectRepository", "insert project", err)
	}
	return nil
}

const projectSelectQuery = `
	SELECT id, user_id, name, domain, tech_stack, status, auto_created, creation_source,
	       original_prompt, latest_version, active_generation_id, created_at, updated_at
	FROM projects`

func (r *sqliteProjectRepository) GetByID(ctx context.Context, id string) (*Project, error) {
	row := r.db.QueryRowContext(ctx, projectSelectQuery+" WHERE id = ?", id)
	return scanProject(row)
}

func (r *sqliteProjectRepository) FindRecentAutoCreated(ctx context.Context, userID, name string, since time.Time) (*Project, error) {
	row := r.db.QueryRowContext(ctx, projectSelectQuery+`
		WHERE user_id = ? AND auto_created = 1 AND name = ? AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`, userID, name, since)
	p, err := scanProject(row)
	if err != nil {
		if orcherr.KindOf(err) == orcherr.NotFound {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// NextVersion increments project.latest_version inside a transaction and
// returns the new value — the single ordered-write point §4.6 requires.
func (r *sqliteProjectRepository) NextVersion(ctx context.Context, projectID string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, orcherr.Wrap(orcherr.StorageError, "generation.ProjectRepository", "begin tx", err)
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT latest_version FROM projects WHERE id = ?`, projectID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return 0, orcherr.New(orcherr.NotFound, "generation.ProjectRepository", "project not found: "+projectID)
		}
		return 0, orcherr.Wrap(orcherr.StorageError, "generation.ProjectRepository", "read latest_version", err)
	}

	next := current + 1
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET latest_version = ?, updated_at = ? WHERE id = ?`, next, time.Now().UTC(), projectID); err != nil {
		return 0, orcherr.Wrap(orcherr.StorageError, "generation.ProjectRepository", "bump latest_version", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, orcherr.Wrap(orcherr.StorageError, "generation.ProjectRepository", "commit tx", err)
	}
	return next, nil
}

func (r *sqliteProjectRepository) SetActiveGeneration(ctx context.Context, projectID, generationID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE projects SET active_generation_id = ?, updated_at = ? WHERE id = ?`,
		generationID, time.Now().UTC(), projectID)
	if err != nil {
		return orcherr.Wrap(orcherr.StorageError, "generation.ProjectRepository", "set active generation", err)
	}
	return nil
}

func scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var status string
	var autoCreated int
	var activeGen sql.NullString
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Domain, &p.TechStack, &status, &autoCreated,
		&p.CreationSource, &p.OriginalPrompt, &p.LatestVersion, &activeGen, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, orcherr.New(orcherr.NotFound, "generation.ProjectRepository", "project not found")
		}
		return nil, orcherr.Wrap(orcherr.StorageError, "generation.ProjectRepository", "scan project", err)
	}
	p.Status = ProjectStatus(status)
	p.AutoCreated = autoCreated != 0
	if activeGen.Valid {
		p.ActiveGenerationID = activeGen.String
	}
	return &p, nil
}

// --- GenerationRepository ---

type sqliteGenerationRepository struct {
	db *sql.DB
}

func (r *sqliteGenerationRepository) Create(ctx context.Context, g *Generation) error {
	now := time.Now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now

	contextJSON, err := marshalMap(g.Context)
	if err != nil {
		return orcherr.Wrap(orcherr.Internal, "generation.GenerationRepository", "marshal context", err)
	}
	outputsJSON, err := marshalFiles(g.OutputFiles)
	if err != nil {
		return orcherr.Wrap(orcherr.Internal, "generation.GenerationRepository", "marshal output_files", err)
	}
	summaryJSON, err := marshalSummary(g.ChangesSummary)
	if err != nil {
		return orcherr.Wrap(orcherr.Internal, "generation.GenerationRepository", "marshal changes_summary", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO generations
			(id, user_id, project_id, version, prompt, context, status, error_message,
			 is_iteration, parent_generation_id, storage_path, file_count, total_size_bytes,
			 output_files, diff_from_previous, changes_summary, quality_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.UserID, g.ProjectID, g.Version, g.Prompt, contextJSON, string(g.Status), g.ErrorMessage,
		boolToInt(g.IsIteration), nullableString(g.ParentGenerationID), g.StoragePath, g.FileCount,
		g.TotalSizeBytes, outputsJSON, g.DiffFromPrevious, summaryJSON, g.QualityScore, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return orcherr.Wrap(orcherr.StorageError, "generation.GenerationRepository", "insert generation", err)
	}
	return nil
}

const generationSelectQuery = `
	SELECT id, user_id, project_id, version, prompt, context, status, error_message,
	       is_iteration, parent_generation_id, storage_path, file_count, total_size_bytes,
	       output_files, diff_from_previous, changes_summary, quality_score,
	       created_at, updated_at, completed_at
	FROM generations`

func (r *sqliteGenerationRepository) GetByID(ctx context.Context, id string) (*Generation, error) {
	row := r.db.QueryRowContext(ctx, generationSelectQuery+" WHERE id = ?", id)
	return scanGeneration(row)
}

func (r *sqliteGenerationRepository) ListByProject(ctx context.Context, projectID string) ([]*Generation, error) {
	rows, err := r.db.QueryContext(ctx, generationSelectQuery+" WHERE project_id = ? ORDER BY version ASC", projectID)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.StorageError, "generation.GenerationRepository", "list generations", err)
	}
	defer rows.Close()

	var out []*Generation
	for rows.Next() {
		g, err := scanGenerationRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ClaimForProcessing transitions pending→processing atomically — the
// second ordered-write point §4.6 requires — and reports whether this
// caller won the claim.
func (r *sqliteGenerationRepository) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, orcherr.Wrap(orcherr.StorageError, "generation.GenerationRepository", "begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE generations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(StatusProcessing), time.Now().UTC(), id, string(StatusPending))
	if err != nil {
		return false, orcherr.Wrap(orcherr.StorageError, "generation.GenerationRepository", "claim generation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, orcherr.Wrap(orcherr.StorageError, "generation.GenerationRepository", "read rows affected", err)
	}
	if err := tx.Commit(); err != nil {
		return false, orcherr.Wrap(orcherr.StorageError, "generation.GenerationRepository", "commit claim", err)
	}
	return n == 1, nil
}

func (r *sqliteGenerationRepository) UpdateStatus(ctx context.Context, id string, status Status, errorMessage string) error {
	var completedAt any
	if status.IsTerminal() {
		completedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE generations SET status = ?, error_message = ?, completed_at = COALESCE(?, completed_at), updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(status), errorMessage, completedAt, time.Now().UTC(), id,
		string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return orcherr.Wrap(orcherr.StorageError, "generation.GenerationRepository", "update status", err)
	}
	return nil
}

func (r *sqliteGenerationRepository) RecordOutputs(ctx context.Context, id string, input RecordOutputsInput) error {
	outputsJSON, err := marshalFiles(input.OutputFiles)
	if err != nil {
		return orcherr.Wrap(orcherr.Internal, "generation.GenerationRepository", "marshal output_files", err)
	}
	summaryJSON, err := marshalSummary(input.ChangesSummary)
	if err != nil {
		return orcherr.Wrap(orcherr.Internal, "generation.GenerationRepository", "marshal changes_summary", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE generations SET
			storage_path = ?, file_count = ?, total_size_bytes = ?, output_files = ?,
			diff_from_previous = ?, changes_summary = ?, quality_score = ?, updated_at = ?
		WHERE id = ?`,
		input.StoragePath, input.FileCount, input.TotalSizeBytes, outputsJSON,
		input.DiffFromPrevious, summaryJSON, input.QualityScore, time.Now().UTC(), id)
	if err != nil {
		return orcherr.Wrap(orcherr.StorageError, "generation.GenerationRepository", "record outputs", err)
	}
	return nil
}

// rowScanner is the common subset of *sql.Row/*sql.Rows used by the two
// scan helpers below.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGeneration(row *sql.Row) (*Generation, error) {
	return scanGenerationScanner(row, true)
}

func scanGenerationRows(rows *sql.Rows) (*Generation, error) {
	return scanGenerationScanner(rows, false)
}

func scanGenerationScanner(s rowScanner, isSingle bool) (*Generation, error) {
	var g Generation
	var status, contextJSON, outputsJSON, summaryJSON string
	var isIteration int
	var parentGen sql.NullString
	var completedAt sql.NullTime

	err := s.Scan(&g.ID, &g.UserID, &g.ProjectID, &g.Version, &g.Prompt, &contextJSON, &status, &g.ErrorMessage,
		&isIteration, &parentGen, &g.StoragePath, &g.FileCount, &g.TotalSizeBytes,
		&outputsJSON, &g.DiffFromPrevious, &summaryJSON, &g.QualityScore,
		&g.CreatedAt, &g.UpdatedAt, &completedAt)
	if err != nil {
		if isSingle && err == sql.ErrNoRows {
			return nil, orcherr.New(orcherr.NotFound, "generation.GenerationRepository", "generation not found")
		}
		return nil, orcherr.Wrap(orcherr.StorageError, "generation.GenerationRepository", "scan generation", err)
	}
	g.Status = Status(status)
	g.IsIteration = isIteration != 0
	if parentGen.Valid {
		g.ParentGenerationID = parentGen.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		g.CompletedAt = &t
	}
	if contextJSON != "" {
		_ = json.Unmarshal([]byte(contextJSON), &g.Context)
	}
	if outputsJSON != "" {
		_ = json.Unmarshal([]byte(outputsJSON), &g.OutputFiles)
	}
	if summaryJSON != "" {
		var cs ChangesSummary
		if err := json.Unmarshal([]byte(summaryJSON), &cs); err == nil {
			g.ChangesSummary = &cs
		}
	}
	return &g, nil
}

func marshalMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func marshalFiles(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func marshalSummary(cs *ChangesSummary) (string, error) {
	if cs == nil {
		return "", nil
	}
	data, err := json.Marshal(cs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
