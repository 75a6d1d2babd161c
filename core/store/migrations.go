package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/anci"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/rbac"
	"github.com/alex3000silvac-ai/Agente-Digital-v2/core/utils"
)

//go:embed pgmigrations/*.sql
var pgMigrationsFS embed.FS

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		salt TEXT NOT NULL,
		password_set INTEGER NOT NULL DEFAULT 1,
		require_password_change INTEGER NOT NULL DEFAULT 0,
		failed_attempts INTEGER NOT NULL DEFAULT 0,
		locked_until TIMESTAMP,
		lock_reason TEXT NOT NULL DEFAULT '',
		lock_stage INTEGER NOT NULL DEFAULT 0,
		last_login_at TIMESTAMP,
		last_failed_at TIMESTAMP,
		password_changed_at TIMESTAMP,
		active INTEGER NOT NULL DEFAULT 1,
		disabled_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		permissions TEXT NOT NULL DEFAULT '[]',
		built_in INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id INTEGER NOT NULL,
		role_id INTEGER NOT NULL,
		PRIMARY KEY (user_id, role_id),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(role_id) REFERENCES roles(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS password_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		password_hash TEXT NOT NULL,
		salt TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		roles TEXT NOT NULL,
		csrf_token TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_seen_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP NOT NULL,
		revoked INTEGER NOT NULL DEFAULT 0,
		revoked_at TIMESTAMP,
		revoked_by TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		action TEXT NOT NULL,
		details TEXT,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS empresas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rut TEXT UNIQUE NOT NULL,
		razon_social TEXT NOT NULL,
		tipo_empresa TEXT NOT NULL,
		sector_esencial TEXT NOT NULL DEFAULT '',
		servicio_esencial INTEGER NOT NULL DEFAULT 0,
		nombre_encargado TEXT NOT NULL DEFAULT '',
		cargo_encargado TEXT NOT NULL DEFAULT '',
		email_contacto TEXT NOT NULL DEFAULT '',
		telefono TEXT NOT NULL DEFAULT '',
		direccion TEXT NOT NULL DEFAULT '',
		ciudad TEXT NOT NULL DEFAULT '',
		representante_legal TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS user_empresas (
		user_id INTEGER NOT NULL,
		empresa_id INTEGER NOT NULL,
		PRIMARY KEY (user_id, empresa_id),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(empresa_id) REFERENCES empresas(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS incidentes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		empresa_id INTEGER NOT NULL,
		correlativo TEXT NOT NULL UNIQUE,
		indice_unico TEXT NOT NULL UNIQUE,
		titulo TEXT NOT NULL,
		criticidad TEXT NOT NULL,
		alcance_geografico TEXT NOT NULL DEFAULT '',
		fecha_deteccion TIMESTAMP NOT NULL,
		fecha_ocurrencia TIMESTAMP,
		descripcion_inicial TEXT NOT NULL DEFAULT '',
		impacto_preliminar TEXT NOT NULL DEFAULT '',
		sistemas_afectados TEXT NOT NULL DEFAULT '',
		servicios_interrumpidos TEXT NOT NULL DEFAULT '',
		servicios_esenciales_afectados INTEGER NOT NULL DEFAULT 0,
		origen_incidente TEXT NOT NULL DEFAULT '',
		tipo_amenaza TEXT NOT NULL DEFAULT '',
		responsable_cliente TEXT NOT NULL DEFAULT '',
		acciones_inmediatas TEXT NOT NULL DEFAULT '',
		causa_raiz TEXT NOT NULL DEFAULT '',
		lecciones_aprendidas TEXT NOT NULL DEFAULT '',
		plan_mejora TEXT NOT NULL DEFAULT '',
		solicitar_csirt INTEGER NOT NULL DEFAULT 0,
		tipo_apoyo_csirt TEXT NOT NULL DEFAULT '',
		vector_ataque TEXT NOT NULL DEFAULT '',
		vulnerabilidad_explotada TEXT NOT NULL DEFAULT '',
		reporte_anci_id TEXT NOT NULL DEFAULT '',
		fecha_declaracion_anci TIMESTAMP,
		estado TEXT NOT NULL DEFAULT 'abierto',
		version INTEGER NOT NULL DEFAULT 1,
		creado_por INTEGER,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP,
		deleted_at TIMESTAMP,
		FOREIGN KEY(empresa_id) REFERENCES empresas(id)
	);`,
	`CREATE TABLE IF NOT EXISTS incidente_reg_counters (
		year INTEGER PRIMARY KEY,
		seq INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS incidente_historial (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incidente_id INTEGER NOT NULL,
		estado_anterior TEXT NOT NULL DEFAULT '',
		estado_nuevo TEXT NOT NULL,
		comentario TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY(incidente_id) REFERENCES incidentes(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS taxonomias (
		id TEXT PRIMARY KEY,
		area TEXT NOT NULL,
		efecto TEXT NOT NULL,
		categoria TEXT NOT NULL,
		subcategoria TEXT NOT NULL,
		aplica_tipo_empresa TEXT NOT NULL,
		activa INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS incidente_taxonomias (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incidente_id INTEGER NOT NULL,
		taxonomia_id TEXT NOT NULL,
		justificacion TEXT NOT NULL DEFAULT '',
		descripcion_problema TEXT NOT NULL DEFAULT '',
		orden INTEGER NOT NULL DEFAULT 1,
		creado_por TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		UNIQUE(incidente_id, taxonomia_id),
		FOREIGN KEY(incidente_id) REFERENCES incidentes(id) ON DELETE CASCADE,
		FOREIGN KEY(taxonomia_id) REFERENCES taxonomias(id)
	);`,
	`CREATE TABLE IF NOT EXISTS evidencias (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incidente_id INTEGER NOT NULL,
		grupo TEXT NOT NULL,
		numero_evidencia TEXT NOT NULL,
		taxonomia_link_id INTEGER,
		nombre_original TEXT NOT NULL,
		ruta TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		sha256_plain TEXT NOT NULL,
		sha256_cipher TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		comentario TEXT NOT NULL DEFAULT '',
		subido_por TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		deleted_at TIMESTAMP,
		UNIQUE(incidente_id, numero_evidencia),
		FOREIGN KEY(incidente_id) REFERENCES incidentes(id) ON DELETE CASCADE,
		FOREIGN KEY(taxonomia_link_id) REFERENCES incidente_taxonomias(id) ON DELETE SET NULL
	);`,
	`CREATE TABLE IF NOT EXISTS evidencia_counters (
		incidente_id INTEGER NOT NULL,
		grupo TEXT NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (incidente_id, grupo)
	);`,
	`CREATE TABLE IF NOT EXISTS incident_seeds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incidente_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		version INTEGER NOT NULL,
		estado_temporal TEXT NOT NULL,
		payload TEXT NOT NULL,
		hash_integridad TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		UNIQUE(incidente_id, kind, version),
		FOREIGN KEY(incidente_id) REFERENCES incidentes(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS informes_anci (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incidente_id INTEGER NOT NULL,
		tipo_reporte TEXT NOT NULL,
		version INTEGER NOT NULL,
		nombre_archivo TEXT NOT NULL,
		ruta TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		sha256 TEXT NOT NULL,
		formato TEXT NOT NULL DEFAULT 'docx',
		marcadores_sin_resolver TEXT NOT NULL DEFAULT '[]',
		estado TEXT NOT NULL DEFAULT 'generado',
		generado_por TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		presentado_at TIMESTAMP,
		UNIQUE(incidente_id, tipo_reporte, version),
		FOREIGN KEY(incidente_id) REFERENCES incidentes(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS informe_counters (
		incidente_id INTEGER NOT NULL,
		tipo_reporte TEXT NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (incidente_id, tipo_reporte)
	);`,
	`CREATE TABLE IF NOT EXISTS plantillas_informes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tipo_reporte TEXT UNIQUE NOT NULL,
		nombre TEXT NOT NULL,
		nombre_archivo TEXT NOT NULL,
		descripcion TEXT NOT NULL DEFAULT '',
		activa INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS secciones_config (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		codigo TEXT UNIQUE NOT NULL,
		numero INTEGER NOT NULL,
		titulo TEXT NOT NULL,
		descripcion TEXT NOT NULL DEFAULT '',
		campos_json TEXT NOT NULL DEFAULT '[]',
		aplica_tipo_empresa TEXT NOT NULL DEFAULT 'TODAS',
		tiene_evidencias INTEGER NOT NULL DEFAULT 0,
		orden INTEGER NOT NULL DEFAULT 0,
		activa INTEGER NOT NULL DEFAULT 1
	);`,
	`CREATE TABLE IF NOT EXISTS notify_channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nombre TEXT NOT NULL,
		tipo TEXT NOT NULL DEFAULT 'webhook',
		url TEXT NOT NULL,
		secreto TEXT NOT NULL DEFAULT '',
		eventos TEXT NOT NULL DEFAULT '[]',
		activo INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS notify_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id INTEGER NOT NULL,
		evento TEXT NOT NULL,
		incidente_id INTEGER,
		payload TEXT NOT NULL DEFAULT '',
		estado TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY(channel_id) REFERENCES notify_channels(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS deadline_alerts (
		incidente_id INTEGER NOT NULL,
		tipo_reporte TEXT NOT NULL,
		clase TEXT NOT NULL,
		sent_at TIMESTAMP NOT NULL,
		PRIMARY KEY (incidente_id, tipo_reporte, clase),
		FOREIGN KEY(incidente_id) REFERENCES incidentes(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_incidentes_empresa ON incidentes(empresa_id);`,
	`CREATE INDEX IF NOT EXISTS idx_evidencias_incidente ON evidencias(incidente_id);`,
	`CREATE INDEX IF NOT EXISTS idx_seeds_incidente ON incident_seeds(incidente_id, kind);`,
	`CREATE INDEX IF NOT EXISTS idx_informes_incidente ON informes_anci(incidente_id, tipo_reporte);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);`,
}

// ApplyMigrations brings the schema up to date. Postgres runs the versioned
// goose migrations; sqlite applies the flat DDL plus idempotent column and
// seed fixups.
func ApplyMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	if db.postgres {
		return applyGooseMigrations(ctx, db, logger)
	}
	return applySQLiteMigrations(ctx, db, logger)
}

func applyGooseMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	goose.SetBaseFS(pgMigrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "pgmigrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	if logger != nil {
		logger.Printf("postgres migrations applied")
	}
	return seedAll(ctx, db)
}

func applySQLiteMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	if logger != nil {
		logger.Printf("applying sqlite migrations")
	}
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration #%d failed: %w", i+1, err)
		}
	}
	post := []func(context.Context, *DB) error{
		ensureUserColumns,
		ensureIncidentColumns,
		ensureEmpresaColumns,
		ensureInformeColumns,
	}
	for _, fn := range post {
		if err := fn(ctx, db); err != nil {
			return err
		}
	}
	if err := seedAll(ctx, db); err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("sqlite migrations applied")
	}
	return nil
}

func seedAll(ctx context.Context, db *DB) error {
	seeds := []func(context.Context, *DB) error{
		ensureBuiltinRoles,
		ensureTaxonomyCatalog,
		ensureSectionConfig,
		ensureReportTemplates,
	}
	for _, fn := range seeds {
		if err := fn(ctx, db); err != nil {
			return err
		}
	}
	return nil
}

func ensureUserColumns(ctx context.Context, db *DB) error {
	type col struct {
		Name string
		SQL  string
	}
	cols := []col{
		{Name: "email", SQL: "ALTER TABLE users ADD COLUMN email TEXT NOT NULL DEFAULT ''"},
		{Name: "full_name", SQL: "ALTER TABLE users ADD COLUMN full_name TEXT NOT NULL DEFAULT ''"},
		{Name: "password_set", SQL: "ALTER TABLE users ADD COLUMN password_set INTEGER NOT NULL DEFAULT 1"},
		{Name: "password_changed_at", SQL: "ALTER TABLE users ADD COLUMN password_changed_at TIMESTAMP"},
		{Name: "disabled_at", SQL: "ALTER TABLE users ADD COLUMN disabled_at TIMESTAMP"},
	}
	for _, c := range cols {
		exists, err := columnExists(ctx, db, "users", c.Name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.ExecContext(ctx, c.SQL); err != nil {
			return fmt.Errorf("add column %s: %w", c.Name, err)
		}
	}
	return nil
}

func ensureIncidentColumns(ctx context.Context, db *DB) error {
	type col struct {
		Name string
		SQL  string
	}
	cols := []col{
		{Name: "servicios_esenciales_afectados", SQL: "ALTER TABLE incidentes ADD COLUMN servicios_esenciales_afectados INTEGER NOT NULL DEFAULT 0"},
		{Name: "tipo_apoyo_csirt", SQL: "ALTER TABLE incidentes ADD COLUMN tipo_apoyo_csirt TEXT NOT NULL DEFAULT ''"},
		{Name: "impacto_preliminar", SQL: "ALTER TABLE incidentes ADD COLUMN impacto_preliminar TEXT NOT NULL DEFAULT ''"},
		{Name: "closed_at", SQL: "ALTER TABLE incidentes ADD COLUMN closed_at TIMESTAMP"},
		{Name: "vector_ataque", SQL: "ALTER TABLE incidentes ADD COLUMN vector_ataque TEXT NOT NULL DEFAULT ''"},
		{Name: "vulnerabilidad_explotada", SQL: "ALTER TABLE incidentes ADD COLUMN vulnerabilidad_explotada TEXT NOT NULL DEFAULT ''"},
		{Name: "reporte_anci_id", SQL: "ALTER TABLE incidentes ADD COLUMN reporte_anci_id TEXT NOT NULL DEFAULT ''"},
		{Name: "fecha_declaracion_anci", SQL: "ALTER TABLE incidentes ADD COLUMN fecha_declaracion_anci TIMESTAMP"},
	}
	for _, c := range cols {
		exists, err := columnExists(ctx, db, "incidentes", c.Name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.ExecContext(ctx, c.SQL); err != nil {
			return fmt.Errorf("add column %s: %w", c.Name, err)
		}
	}
	return nil
}

func ensureEmpresaColumns(ctx context.Context, db *DB) error {
	type col struct {
		Name string
		SQL  string
	}
	cols := []col{
		{Name: "representante_legal", SQL: "ALTER TABLE empresas ADD COLUMN representante_legal TEXT NOT NULL DEFAULT ''"},
		{Name: "servicio_esencial", SQL: "ALTER TABLE empresas ADD COLUMN servicio_esencial INTEGER NOT NULL DEFAULT 0"},
		{Name: "nombre_encargado", SQL: "ALTER TABLE empresas ADD COLUMN nombre_encargado TEXT NOT NULL DEFAULT ''"},
		{Name: "cargo_encargado", SQL: "ALTER TABLE empresas ADD COLUMN cargo_encargado TEXT NOT NULL DEFAULT ''"},
		{Name: "version", SQL: "ALTER TABLE empresas ADD COLUMN version INTEGER NOT NULL DEFAULT 1"},
	}
	for _, c := range cols {
		exists, err := columnExists(ctx, db, "empresas", c.Name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.ExecContext(ctx, c.SQL); err != nil {
			return fmt.Errorf("add column %s: %w", c.Name, err)
		}
	}
	return nil
}

func ensureInformeColumns(ctx context.Context, db *DB) error {
	exists, err := columnExists(ctx, db, "informes_anci", "marcadores_sin_resolver")
	if err != nil {
		return err
	}
	if !exists {
		if _, err := db.ExecContext(ctx, "ALTER TABLE informes_anci ADD COLUMN marcadores_sin_resolver TEXT NOT NULL DEFAULT '[]'"); err != nil {
			return fmt.Errorf("add column marcadores_sin_resolver: %w", err)
		}
	}
	return nil
}

func columnExists(ctx context.Context, db *DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func ensureBuiltinRoles(ctx context.Context, db *DB) error {
	for _, role := range rbac.DefaultRoles() {
		perms := encodeStringList(role.Permissions)
		if _, err := db.ExecContext(ctx, `
			INSERT INTO roles(name, description, permissions, built_in, created_at, updated_at)
			VALUES(?, ?, ?, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(name) DO UPDATE SET description = excluded.description`,
			role.Name, role.Description, perms); err != nil {
			return fmt.Errorf("seed role %s: %w", role.Name, err)
		}
	}
	return nil
}

func ensureTaxonomyCatalog(ctx context.Context, db *DB) error {
	for _, t := range anci.TaxonomyCatalog {
		if strings.TrimSpace(t.ID) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, `
			INSERT INTO taxonomias(id, area, efecto, categoria, subcategoria, aplica_tipo_empresa, activa)
			VALUES(?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(id) DO NOTHING`,
			t.ID, t.Area, t.Efecto, t.Categoria, t.Subcategoria, string(t.AppliesTo)); err != nil {
			return fmt.Errorf("seed taxonomy %s: %w", t.ID, err)
		}
	}
	return nil
}

type sectionSeed struct {
	Codigo     string
	Numero     int
	Titulo     string
	Aplica     string
	Evidencias bool
	Campos     string
}

var sectionSeeds = []sectionSeed{
	{Codigo: "SEC_1", Numero: 1, Titulo: "Información General", Aplica: "TODAS",
		Campos: `[{"nombre":"titulo","etiqueta":"Título del incidente","tipo":"texto"},{"nombre":"fecha_deteccion","etiqueta":"Fecha y hora de detección","tipo":"fecha"},{"nombre":"fecha_ocurrencia","etiqueta":"Fecha y hora de ocurrencia","tipo":"fecha"},{"nombre":"criticidad","etiqueta":"Criticidad","tipo":"seleccion"},{"nombre":"alcance_geografico","etiqueta":"Alcance geográfico","tipo":"texto"}]`},
	{Codigo: "SEC_2", Numero: 2, Titulo: "Identificación y Clasificación", Aplica: "TODAS", Evidencias: true,
		Campos: `[{"nombre":"descripcion_inicial","etiqueta":"Descripción inicial","tipo":"textolargo"},{"nombre":"sistemas_afectados","etiqueta":"Sistemas afectados","tipo":"textolargo"},{"nombre":"servicios_interrumpidos","etiqueta":"Servicios interrumpidos","tipo":"textolargo"},{"nombre":"servicios_esenciales_afectados","etiqueta":"Afecta servicios esenciales","tipo":"booleano"}]`},
	{Codigo: "SEC_3", Numero: 3, Titulo: "Evaluación Preliminar", Aplica: "TODAS", Evidencias: true,
		Campos: `[{"nombre":"impacto_preliminar","etiqueta":"Impacto preliminar observado","tipo":"textolargo"},{"nombre":"origen_incidente","etiqueta":"Origen del incidente","tipo":"texto"},{"nombre":"tipo_amenaza","etiqueta":"Tipo de amenaza","tipo":"texto"}]`},
	{Codigo: "SEC_4", Numero: 4, Titulo: "Taxonomía del Incidente", Aplica: "TODAS",
		Campos: `[{"nombre":"taxonomias","etiqueta":"Clasificaciones seleccionadas","tipo":"taxonomia"}]`},
	{Codigo: "SEC_5", Numero: 5, Titulo: "Acciones Inmediatas", Aplica: "TODAS", Evidencias: true,
		Campos: `[{"nombre":"acciones_inmediatas","etiqueta":"Medidas de contención aplicadas","tipo":"textolargo"},{"nombre":"responsable_cliente","etiqueta":"Responsable interno","tipo":"texto"}]`},
	{Codigo: "SEC_6", Numero: 6, Titulo: "Análisis de Causa Raíz", Aplica: "TODAS", Evidencias: true,
		Campos: `[{"nombre":"causa_raiz","etiqueta":"Causa raíz identificada","tipo":"textolargo"}]`},
	{Codigo: "SEC_7", Numero: 7, Titulo: "Lecciones Aprendidas", Aplica: "TODAS",
		Campos: `[{"nombre":"lecciones_aprendidas","etiqueta":"Lecciones aprendidas","tipo":"textolargo"},{"nombre":"plan_mejora","etiqueta":"Plan de mejora","tipo":"textolargo"}]`},
	{Codigo: "SEC_8", Numero: 8, Titulo: "Obligaciones Específicas OIV", Aplica: "OIV",
		Campos: `[{"nombre":"plan_accion_resumen","etiqueta":"Resumen del plan de acción","tipo":"textolargo"},{"nombre":"continuidad_operacional","etiqueta":"Estado de continuidad operacional","tipo":"textolargo"}]`},
	{Codigo: "SEC_9", Numero: 9, Titulo: "Coordinación con CSIRT Nacional", Aplica: "TODAS",
		Campos: `[{"nombre":"solicitar_csirt","etiqueta":"Solicita apoyo CSIRT","tipo":"booleano"},{"nombre":"tipo_apoyo_csirt","etiqueta":"Tipo de apoyo requerido","tipo":"texto"}]`},
}

func ensureSectionConfig(ctx context.Context, db *DB) error {
	for _, s := range sectionSeeds {
		ev := 0
		if s.Evidencias {
			ev = 1
		}
		if _, err := db.ExecContext(ctx, `
			INSERT INTO secciones_config(codigo, numero, titulo, campos_json, aplica_tipo_empresa, tiene_evidencias, orden, activa)
			VALUES(?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(codigo) DO NOTHING`,
			s.Codigo, s.Numero, s.Titulo, s.Campos, s.Aplica, ev, s.Numero); err != nil {
			return fmt.Errorf("seed section %s: %w", s.Codigo, err)
		}
	}
	return nil
}

func ensureReportTemplates(ctx context.Context, db *DB) error {
	templates := []struct {
		Kind    anci.ReportKind
		Archivo string
	}{
		{anci.ReportAlertaTemprana, "alerta_temprana.docx"},
		{anci.ReportInformePreliminar, "informe_preliminar.docx"},
		{anci.ReportInformeCompleto, "informe_completo.docx"},
		{anci.ReportPlanAccion, "plan_accion.docx"},
		{anci.ReportInformeFinal, "informe_final.docx"},
	}
	for _, t := range templates {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO plantillas_informes(tipo_reporte, nombre, nombre_archivo, activa, updated_at)
			VALUES(?, ?, ?, 1, CURRENT_TIMESTAMP)
			ON CONFLICT(tipo_reporte) DO NOTHING`,
			string(t.Kind), t.Kind.DisplayName(), t.Archivo); err != nil {
			return fmt.Errorf("seed template %s: %w", t.Kind, err)
		}
	}
	return nil
}
