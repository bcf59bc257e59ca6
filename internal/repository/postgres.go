package repository

import "database/sql"

// NewPostgresRepositories はPostgreSQL実装のリポジトリ一式を返す。
func NewPostgresRepositories(db *sql.DB) Repositories {
	return Repositories{
		Principals: NewPostgresPrincipalRepo(db),
		Sessions:   NewPostgresSessionRepo(db),
		Projects:   NewPostgresProjectRepo(db),
	}
}
