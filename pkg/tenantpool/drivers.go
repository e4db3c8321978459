package tenantpool

// Drivers a tenant pool can be opened with. Each registers itself with
// database/sql under the name in the comment.
import (
	_ "github.com/denisenkom/go-mssqldb" // sqlserver
	_ "github.com/go-sql-driver/mysql"   // mysql
	_ "github.com/jackc/pgx/v5/stdlib"   // pgx
	_ "modernc.org/sqlite"               // sqlite
)
