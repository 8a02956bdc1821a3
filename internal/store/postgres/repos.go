package postgres

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storyglass/storyglass/internal/apperr"
	"github.com/storyglass/storyglass/internal/model"
	"github.com/storyglass/storyglass/internal/store"
)

func wrap(err error, resource, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(resource, id)
	}
	return apperr.Persistence(err)
}

type worksRepo struct{ pool *pgxpool.Pool }

const workCols = "id, title, style_preset, custom_style, content_type, detection, total_chapters, status, created_at, updated_at"

func scanWork(row pgx.Row) (*model.Work, error) {
	var w model.Work
	err := row.Scan(&w.ID, &w.Title, &w.StylePreset, &w.CustomStyle, &w.ContentType,
		&w.Detection, &w.TotalChapters, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r worksRepo) Get(ctx context.Context, id string) (*model.Work, error) {
	w, err := scanWork(r.pool.QueryRow(ctx, "SELECT "+workCols+" FROM works WHERE id = $1", id))
	if err != nil {
		return nil, wrap(err, "work", id)
	}
	return w, nil
}

func (r worksRepo) List(ctx context.Context, f store.WorkFilter) ([]model.Work, error) {
	q := "SELECT " + workCols + " FROM works"
	var args []any
	if f.Status != "" {
		q += " WHERE status = $1"
		args = append(args, f.Status)
	}
	q += " ORDER BY id"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []model.Work
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, apperr.Persistence(err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func (r worksRepo) Upsert(ctx context.Context, w model.Work) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO works (`+workCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, style_preset = EXCLUDED.style_preset,
			custom_style = EXCLUDED.custom_style, content_type = EXCLUDED.content_type,
			detection = EXCLUDED.detection, total_chapters = EXCLUDED.total_chapters,
			status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		w.ID, w.Title, w.StylePreset, w.CustomStyle, w.ContentType,
		w.Detection, w.TotalChapters, w.Status, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

func (r worksRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM works WHERE id = $1", id); err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

type chaptersRepo struct{ pool *pgxpool.Pool }

const chapterCols = "id, work_id, ordinal, title, body, word_count, status, error"

func scanChapter(row pgx.Row) (*model.Chapter, error) {
	var c model.Chapter
	err := row.Scan(&c.ID, &c.WorkID, &c.Ordinal, &c.Title, &c.Text, &c.WordCount, &c.Status, &c.Error)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r chaptersRepo) Get(ctx context.Context, id string) (*model.Chapter, error) {
	c, err := scanChapter(r.pool.QueryRow(ctx, "SELECT "+chapterCols+" FROM chapters WHERE id = $1", id))
	if err != nil {
		return nil, wrap(err, "chapter", id)
	}
	return c, nil
}

func (r chaptersRepo) List(ctx context.Context, f store.ChapterFilter) ([]model.Chapter, error) {
	var conds []string
	var args []any
	if f.WorkID != "" {
		args = append(args, f.WorkID)
		conds = append(conds, "work_id = $1")
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, "status = $"+itoa(len(args)))
	}
	q := "SELECT " + chapterCols + " FROM chapters"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY work_id, ordinal"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []model.Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, apperr.Persistence(err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r chaptersRepo) Upsert(ctx context.Context, c model.Chapter) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chapters (`+chapterCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, body = EXCLUDED.body,
			word_count = EXCLUDED.word_count, status = EXCLUDED.status,
			error = EXCLUDED.error`,
		c.ID, c.WorkID, c.Ordinal, c.Title, c.Text, c.WordCount, c.Status, c.Error)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

func (r chaptersRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM chapters WHERE id = $1", id); err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

type scenesRepo struct{ pool *pgxpool.Pool }

const sceneCols = "id, chapter_id, chunk_index, scene_index, body, summary, visual_score, impact_score, time_of_day, emotional_tone, action_level, anchor_paragraph, active_image_id, skipped"

func scanScene(row pgx.Row) (*model.Scene, error) {
	var s model.Scene
	err := row.Scan(&s.ID, &s.ChapterID, &s.ChunkIndex, &s.SceneIndex, &s.Text, &s.Summary,
		&s.VisualScore, &s.ImpactScore, &s.TimeOfDay, &s.Tone, &s.ActionLevel,
		&s.AnchorParagraph, &s.ActiveImageID, &s.Skipped)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r scenesRepo) Get(ctx context.Context, id string) (*model.Scene, error) {
	s, err := scanScene(r.pool.QueryRow(ctx, "SELECT "+sceneCols+" FROM scenes WHERE id = $1", id))
	if err != nil {
		return nil, wrap(err, "scene", id)
	}
	return s, nil
}

func (r scenesRepo) List(ctx context.Context, f store.SceneFilter) ([]model.Scene, error) {
	q := "SELECT " + sceneCols + " FROM scenes"
	var args []any
	if f.ChapterID != "" {
		q += " WHERE chapter_id = $1"
		args = append(args, f.ChapterID)
	}
	q += " ORDER BY chunk_index, scene_index"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []model.Scene
	for rows.Next() {
		s, err := scanScene(rows)
		if err != nil {
			return nil, apperr.Persistence(err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r scenesRepo) Upsert(ctx context.Context, s model.Scene) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scenes (`+sceneCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			summary = EXCLUDED.summary, visual_score = EXCLUDED.visual_score,
			impact_score = EXCLUDED.impact_score, time_of_day = EXCLUDED.time_of_day,
			emotional_tone = EXCLUDED.emotional_tone, action_level = EXCLUDED.action_level,
			anchor_paragraph = EXCLUDED.anchor_paragraph,
			active_image_id = EXCLUDED.active_image_id, skipped = EXCLUDED.skipped`,
		s.ID, s.ChapterID, s.ChunkIndex, s.SceneIndex, s.Text, s.Summary,
		s.VisualScore, s.ImpactScore, s.TimeOfDay, s.Tone, s.ActionLevel,
		s.AnchorParagraph, s.ActiveImageID, s.Skipped)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

func (r scenesRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM scenes WHERE id = $1", id); err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

type entitiesRepo struct{ pool *pgxpool.Pool }

const entityCols = "id, work_id, name, kind, description, aliases, first_appearance, active"

func scanEntity(row pgx.Row) (*model.Entity, error) {
	var e model.Entity
	err := row.Scan(&e.ID, &e.WorkID, &e.Name, &e.Kind, &e.Description, &e.Aliases, &e.FirstAppearance, &e.Active)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r entitiesRepo) Get(ctx context.Context, id string) (*model.Entity, error) {
	e, err := scanEntity(r.pool.QueryRow(ctx, "SELECT "+entityCols+" FROM entities WHERE id = $1", id))
	if err != nil {
		return nil, wrap(err, "entity", id)
	}
	return e, nil
}

func (r entitiesRepo) List(ctx context.Context, f store.EntityFilter) ([]model.Entity, error) {
	var conds []string
	var args []any
	if f.WorkID != "" {
		args = append(args, f.WorkID)
		conds = append(conds, "work_id = $1")
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		conds = append(conds, "kind = $"+itoa(len(args)))
	}
	if f.ActiveOnly {
		conds = append(conds, "active")
	}
	q := "SELECT " + entityCols + " FROM entities"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY first_appearance, id"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, apperr.Persistence(err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r entitiesRepo) Upsert(ctx context.Context, e model.Entity) error {
	aliases := e.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO entities (`+entityCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			aliases = EXCLUDED.aliases, first_appearance = EXCLUDED.first_appearance,
			active = EXCLUDED.active`,
		e.ID, e.WorkID, e.Name, e.Kind, e.Description, aliases, e.FirstAppearance, e.Active)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

func (r entitiesRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM entities WHERE id = $1", id); err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

type referencesRepo struct{ pool *pgxpool.Pool }

const referenceCols = "id, entity_id, image_pointer, added_at_chapter, age_tag, style_preset, description, active, priority, generation_method, quality_score, source_prompt, created_at"

func scanReference(row pgx.Row) (*model.EntityReference, error) {
	var ref model.EntityReference
	err := row.Scan(&ref.ID, &ref.EntityID, &ref.ImagePointer, &ref.AddedAtChapter, &ref.AgeTag,
		&ref.StylePreset, &ref.Description, &ref.Active, &ref.Priority, &ref.Method,
		&ref.QualityScore, &ref.SourcePrompt, &ref.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r referencesRepo) Get(ctx context.Context, id string) (*model.EntityReference, error) {
	ref, err := scanReference(r.pool.QueryRow(ctx, "SELECT "+referenceCols+" FROM entity_references WHERE id = $1", id))
	if err != nil {
		return nil, wrap(err, "reference", id)
	}
	return ref, nil
}

func (r referencesRepo) List(ctx context.Context, f store.ReferenceFilter) ([]model.EntityReference, error) {
	var conds []string
	var args []any
	if f.EntityID != "" {
		args = append(args, f.EntityID)
		conds = append(conds, "entity_id = $1")
	}
	if f.StylePreset != "" {
		args = append(args, f.StylePreset)
		conds = append(conds, "style_preset = $"+itoa(len(args)))
	}
	if f.ActiveOnly {
		conds = append(conds, "active")
	}
	q := "SELECT " + referenceCols + " FROM entity_references"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY priority DESC, added_at_chapter DESC, id"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []model.EntityReference
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, apperr.Persistence(err)
		}
		out = append(out, *ref)
	}
	return out, rows.Err()
}

func (r referencesRepo) Upsert(ctx context.Context, ref model.EntityReference) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO entity_references (`+referenceCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			active = EXCLUDED.active, priority = EXCLUDED.priority,
			description = EXCLUDED.description, quality_score = EXCLUDED.quality_score`,
		ref.ID, ref.EntityID, ref.ImagePointer, ref.AddedAtChapter, ref.AgeTag,
		ref.StylePreset, ref.Description, ref.Active, ref.Priority, ref.Method,
		ref.QualityScore, ref.SourcePrompt, ref.CreatedAt)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

func (r referencesRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM entity_references WHERE id = $1", id); err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

type evolutionsRepo struct{ pool *pgxpool.Pool }

const evolutionCols = "id, entity_id, at_chapter, previous_description, new_description, changes, updated, note, recorded_at"

func scanEvolution(row pgx.Row) (*model.EvolutionRecord, error) {
	var rec model.EvolutionRecord
	err := row.Scan(&rec.ID, &rec.EntityID, &rec.AtChapter, &rec.PrevDesc, &rec.NewDesc,
		&rec.Changes, &rec.Updated, &rec.Note, &rec.RecordedAtUTC)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r evolutionsRepo) Get(ctx context.Context, id string) (*model.EvolutionRecord, error) {
	rec, err := scanEvolution(r.pool.QueryRow(ctx, "SELECT "+evolutionCols+" FROM evolution_records WHERE id = $1", id))
	if err != nil {
		return nil, wrap(err, "evolution record", id)
	}
	return rec, nil
}

func (r evolutionsRepo) List(ctx context.Context, f store.EvolutionFilter) ([]model.EvolutionRecord, error) {
	q := "SELECT " + evolutionCols + " FROM evolution_records"
	var args []any
	if f.EntityID != "" {
		q += " WHERE entity_id = $1"
		args = append(args, f.EntityID)
	}
	q += " ORDER BY at_chapter, id"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []model.EvolutionRecord
	for rows.Next() {
		rec, err := scanEvolution(rows)
		if err != nil {
			return nil, apperr.Persistence(err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r evolutionsRepo) Upsert(ctx context.Context, rec model.EvolutionRecord) error {
	changes := rec.Changes
	if changes == nil {
		changes = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO evolution_records (`+evolutionCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.EntityID, rec.AtChapter, rec.PrevDesc, rec.NewDesc,
		changes, rec.Updated, rec.Note, rec.RecordedAtUTC)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

func (r evolutionsRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM evolution_records WHERE id = $1", id); err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

type promptsRepo struct{ pool *pgxpool.Pool }

const promptCols = "id, scene_id, body, negative_body, style_preset, refs, params, parent_id, history, created_at"

func scanPrompt(row pgx.Row) (*model.Prompt, error) {
	var p model.Prompt
	err := row.Scan(&p.ID, &p.SceneID, &p.Text, &p.NegativeText, &p.StylePreset,
		&p.References, &p.Params, &p.ParentID, &p.History, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r promptsRepo) Get(ctx context.Context, id string) (*model.Prompt, error) {
	p, err := scanPrompt(r.pool.QueryRow(ctx, "SELECT "+promptCols+" FROM prompts WHERE id = $1", id))
	if err != nil {
		return nil, wrap(err, "prompt", id)
	}
	return p, nil
}

func (r promptsRepo) List(ctx context.Context, f store.PromptFilter) ([]model.Prompt, error) {
	q := "SELECT " + promptCols + " FROM prompts"
	var args []any
	if f.SceneID != "" {
		q += " WHERE scene_id = $1"
		args = append(args, f.SceneID)
	}
	q += " ORDER BY created_at, id"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []model.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, apperr.Persistence(err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r promptsRepo) Upsert(ctx context.Context, p model.Prompt) error {
	refs := p.References
	if refs == nil {
		refs = []model.PromptReference{}
	}
	history := p.History
	if history == nil {
		history = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO prompts (`+promptCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.SceneID, p.Text, p.NegativeText, p.StylePreset,
		refs, p.Params, p.ParentID, history, p.CreatedAt)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

func (r promptsRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM prompts WHERE id = $1", id); err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

type imagesRepo struct{ pool *pgxpool.Pool }

const imageCols = "id, prompt_id, scene_id, image_pointer, status, model_version, seed, generation_seconds, cost_usd, error_detail, version, selected, replaced_image_id, replaced_at, created_at"

func scanImage(row pgx.Row) (*model.GeneratedImage, error) {
	var img model.GeneratedImage
	err := row.Scan(&img.ID, &img.PromptID, &img.SceneID, &img.ImagePointer, &img.Status,
		&img.ModelVersion, &img.Seed, &img.GenerationTime, &img.CostUSD, &img.ErrorDetail,
		&img.Version, &img.Selected, &img.ReplacedImageID, &img.ReplacedAt, &img.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (r imagesRepo) Get(ctx context.Context, id string) (*model.GeneratedImage, error) {
	img, err := scanImage(r.pool.QueryRow(ctx, "SELECT "+imageCols+" FROM generated_images WHERE id = $1", id))
	if err != nil {
		return nil, wrap(err, "image", id)
	}
	return img, nil
}

func (r imagesRepo) List(ctx context.Context, f store.ImageFilter) ([]model.GeneratedImage, error) {
	var conds []string
	var args []any
	if f.SceneID != "" {
		args = append(args, f.SceneID)
		conds = append(conds, "scene_id = $1")
	}
	if f.SelectedOnly {
		conds = append(conds, "selected")
	}
	q := "SELECT " + imageCols + " FROM generated_images"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY version, id"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []model.GeneratedImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, apperr.Persistence(err)
		}
		out = append(out, *img)
	}
	return out, rows.Err()
}

func (r imagesRepo) Upsert(ctx context.Context, img model.GeneratedImage) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO generated_images (`+imageCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			image_pointer = EXCLUDED.image_pointer, status = EXCLUDED.status,
			error_detail = EXCLUDED.error_detail, selected = EXCLUDED.selected,
			replaced_image_id = EXCLUDED.replaced_image_id, replaced_at = EXCLUDED.replaced_at`,
		img.ID, img.PromptID, img.SceneID, img.ImagePointer, img.Status,
		img.ModelVersion, img.Seed, img.GenerationTime, img.CostUSD, img.ErrorDetail,
		img.Version, img.Selected, img.ReplacedImageID, img.ReplacedAt, img.CreatedAt)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

func (r imagesRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM generated_images WHERE id = $1", id); err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

type reportsRepo struct{ pool *pgxpool.Pool }

const reportCols = "id, image_id, overall, components, issues, suggestions, safe, safety_detail"

func scanReport(row pgx.Row) (*model.QualityReport, error) {
	var rep model.QualityReport
	err := row.Scan(&rep.ID, &rep.ImageID, &rep.Overall, &rep.Components,
		&rep.Issues, &rep.Suggestions, &rep.Safe, &rep.SafetyDetail)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r reportsRepo) Get(ctx context.Context, id string) (*model.QualityReport, error) {
	rep, err := scanReport(r.pool.QueryRow(ctx, "SELECT "+reportCols+" FROM quality_reports WHERE id = $1", id))
	if err != nil {
		return nil, wrap(err, "quality report", id)
	}
	return rep, nil
}

func (r reportsRepo) List(ctx context.Context, f store.ReportFilter) ([]model.QualityReport, error) {
	q := "SELECT " + reportCols + " FROM quality_reports"
	var args []any
	if f.ImageID != "" {
		q += " WHERE image_id = $1"
		args = append(args, f.ImageID)
	}
	q += " ORDER BY id"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []model.QualityReport
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, apperr.Persistence(err)
		}
		out = append(out, *rep)
	}
	return out, rows.Err()
}

func (r reportsRepo) Upsert(ctx context.Context, rep model.QualityReport) error {
	components := rep.Components
	if components == nil {
		components = map[string]float64{}
	}
	issues := rep.Issues
	if issues == nil {
		issues = []string{}
	}
	suggestions := rep.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO quality_reports (`+reportCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING`,
		rep.ID, rep.ImageID, rep.Overall, components, issues, suggestions, rep.Safe, rep.SafetyDetail)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

func (r reportsRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM quality_reports WHERE id = $1", id); err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

type jobsRepo struct{ pool *pgxpool.Pool }

const jobCols = "id, work_id, ordinal, status, prerequisite, priority, created_at, started_at, completed_at, last_error"

func scanJob(row pgx.Row) (*model.ChapterJob, error) {
	var j model.ChapterJob
	err := row.Scan(&j.ID, &j.WorkID, &j.Ordinal, &j.Status, &j.Prerequisite,
		&j.Priority, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.LastError)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r jobsRepo) Get(ctx context.Context, id string) (*model.ChapterJob, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, "SELECT "+jobCols+" FROM chapter_jobs WHERE id = $1", id))
	if err != nil {
		return nil, wrap(err, "chapter job", id)
	}
	return j, nil
}

func (r jobsRepo) List(ctx context.Context, f store.JobFilter) ([]model.ChapterJob, error) {
	var conds []string
	var args []any
	if f.WorkID != "" {
		args = append(args, f.WorkID)
		conds = append(conds, "work_id = $1")
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, "status = $"+itoa(len(args)))
	}
	q := "SELECT " + jobCols + " FROM chapter_jobs"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY work_id, ordinal"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []model.ChapterJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Persistence(err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (r jobsRepo) Upsert(ctx context.Context, j model.ChapterJob) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chapter_jobs (`+jobCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at, last_error = EXCLUDED.last_error,
			priority = EXCLUDED.priority`,
		j.ID, j.WorkID, j.Ordinal, j.Status, j.Prerequisite,
		j.Priority, j.CreatedAt, j.StartedAt, j.CompletedAt, j.LastError)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

func (r jobsRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM chapter_jobs WHERE id = $1", id); err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

type edgesRepo struct{ pool *pgxpool.Pool }

func (r edgesRepo) List(ctx context.Context, f store.EdgeFilter) ([]model.SceneEntityEdge, error) {
	var conds []string
	var args []any
	if f.SceneID != "" {
		args = append(args, f.SceneID)
		conds = append(conds, "scene_id = $1")
	}
	if f.EntityID != "" {
		args = append(args, f.EntityID)
		conds = append(conds, "entity_id = $"+itoa(len(args)))
	}
	q := "SELECT scene_id, entity_id, confidence, mention FROM scene_entity_edges"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY scene_id, entity_id"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Persistence(err)
	}
	defer rows.Close()

	var out []model.SceneEntityEdge
	for rows.Next() {
		var e model.SceneEntityEdge
		if err := rows.Scan(&e.SceneID, &e.EntityID, &e.Confidence, &e.Mention); err != nil {
			return nil, apperr.Persistence(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r edgesRepo) Upsert(ctx context.Context, e model.SceneEntityEdge) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scene_entity_edges (scene_id, entity_id, confidence, mention)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (scene_id, entity_id) DO UPDATE SET
			confidence = EXCLUDED.confidence, mention = EXCLUDED.mention`,
		e.SceneID, e.EntityID, e.Confidence, e.Mention)
	if err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

func (r edgesRepo) Delete(ctx context.Context, sceneID, entityID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM scene_entity_edges WHERE scene_id = $1 AND entity_id = $2", sceneID, entityID); err != nil {
		return apperr.Persistence(err)
	}
	return nil
}

func itoa(n int) string { return strconv.Itoa(n) }
