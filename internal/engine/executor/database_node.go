package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/flowgrid-go/internal/domain/workflow"
	"github.com/flowgrid-go/pkg/logger"
)

// DatabaseInserter executes a single parameterized insert. Split out so
// tests can run against in-memory sqlite.
type DatabaseInserter interface {
	Insert(ctx context.Context, table string, record map[string]interface{}) error
}

// GormInserter is the production inserter backed by the application database.
type GormInserter struct {
	DB *gorm.DB
}

func (g *GormInserter) Insert(ctx context.Context, table string, record map[string]interface{}) error {
	return g.DB.WithContext(ctx).Table(table).Create(record).Error
}

// DatabaseNodeExecutor inserts the resolved data map into config.table.
type DatabaseNodeExecutor struct {
	BaseNodeExecutor
	inserter DatabaseInserter
	logger   logger.Logger
}

func NewDatabaseNodeExecutor(inserter DatabaseInserter, log logger.Logger) *DatabaseNodeExecutor {
	return &DatabaseNodeExecutor{
		BaseNodeExecutor: BaseNodeExecutor{timeout: 30 * time.Second},
		inserter:         inserter,
		logger:           log,
	}
}

func (e *DatabaseNodeExecutor) Execute(ctx context.Context, node workflow.Node, input map[string]interface{}) (map[string]interface{}, error) {
	table, _ := node.Config["table"].(string)
	if table == "" {
		return nil, workflow.ErrUnsupportedTable
	}

	record := make(map[string]interface{}, len(input)+1)
	for k, v := range input {
		record[k] = v
	}

	recordID, _ := record["id"].(string)
	if recordID == "" {
		recordID = uuid.New().String()
		record["id"] = recordID
	}

	if err := e.inserter.Insert(ctx, table, record); err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrQuery, err)
	}

	return map[string]interface{}{
		"recordId":     recordID,
		"insertedData": record,
	}, nil
}
