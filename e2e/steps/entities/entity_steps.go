package entities

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Do(method, path string, body any) error
	GetStatus() int
	GetResponseField(path string) (any, error)
	ResponseLines() int
	SaveEntityID(alias, id string)
	EntityID(alias string) (string, error)
}

// RegisterSteps registers entity-related step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &entitySteps{tc: tc}

	// Schema administration
	ctx.Step(`^entity type "([^"]*)" is identified by "([^"]*)"$`, steps.registerEntityType)

	// Entity operations
	ctx.Step(`^I upsert a "([^"]*)" with "([^"]*)" set to "([^"]*)" and attributes:$`, steps.upsertWithAttributes)
	ctx.Step(`^I upsert a "([^"]*)" with "([^"]*)" set to "([^"]*)"$`, steps.upsert)
	ctx.Step(`^I save the entity as "([^"]*)"$`, steps.saveEntity)
	ctx.Step(`^I get the entity "([^"]*)"$`, steps.getEntity)
	ctx.Step(`^I delete the entity "([^"]*)"$`, steps.deleteEntity)
	ctx.Step(`^I query "([^"]*)" entities where "([^"]*)" is "([^"]*)"$`, steps.queryEquals)

	// Entity assertions
	ctx.Step(`^the entity id should equal the saved entity "([^"]*)"$`, steps.entityIDShouldEqual)
	ctx.Step(`^the query should return (\d+) entit(?:y|ies)$`, steps.queryShouldReturn)
}

type entitySteps struct {
	tc TestContext
}

func (s *entitySteps) registerEntityType(ctx context.Context, entityType, keys string) error {
	identifying := strings.Split(keys, ",")
	attributes := make(map[string]any, len(identifying))
	for _, k := range identifying {
		attributes[k] = map[string]any{"kind": "string", "caseInsensitive": true}
	}
	body := map[string]any{
		"identifyingKeys": identifying,
		"attributes":      attributes,
	}
	if err := s.tc.Do(http.MethodPut, "/v1/entity-types/"+entityType, body); err != nil {
		return err
	}
	if s.tc.GetStatus() != http.StatusOK {
		return fmt.Errorf("register entity type %s: status %d", entityType, s.tc.GetStatus())
	}
	return nil
}

func (s *entitySteps) upsert(ctx context.Context, entityType, key, value string) error {
	return s.upsertWithAttributes(ctx, entityType, key, value, nil)
}

// upsertWithAttributes reads a two-column table of attribute names and
// values. Values that parse as numbers are sent as numbers.
func (s *entitySteps) upsertWithAttributes(ctx context.Context, entityType, key, value string, table *godog.Table) error {
	attributes := map[string]any{}
	if table != nil {
		for _, row := range table.Rows {
			if len(row.Cells) != 2 {
				return fmt.Errorf("attribute rows need a name and a value")
			}
			attributes[row.Cells[0].Value] = wireValue(row.Cells[1].Value)
		}
	}
	body := map[string]any{
		"entityType":            entityType,
		"identifyingAttributes": map[string]any{key: wireValue(value)},
		"attributes":            attributes,
	}
	return s.tc.Do(http.MethodPut, "/v1/entities", body)
}

func wireValue(raw string) map[string]any {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return map[string]any{"number": n}
	}
	return map[string]any{"string": raw}
}

func (s *entitySteps) saveEntity(ctx context.Context, alias string) error {
	id, err := s.tc.GetResponseField("entity.entityId")
	if err != nil {
		return err
	}
	s.tc.SaveEntityID(alias, fmt.Sprint(id))
	return nil
}

func (s *entitySteps) getEntity(ctx context.Context, alias string) error {
	id, err := s.tc.EntityID(alias)
	if err != nil {
		return err
	}
	return s.tc.Do(http.MethodGet, "/v1/entities/"+id, nil)
}

func (s *entitySteps) deleteEntity(ctx context.Context, alias string) error {
	id, err := s.tc.EntityID(alias)
	if err != nil {
		return err
	}
	return s.tc.Do(http.MethodDelete, "/v1/entities/"+id, nil)
}

func (s *entitySteps) queryEquals(ctx context.Context, entityType, path, value string) error {
	body := map[string]any{
		"entityType": entityType,
		"predicates": []map[string]any{
			{"path": path, "op": "EQ", "value": wireValue(value)},
		},
	}
	return s.tc.Do(http.MethodPost, "/v1/entities/query", body)
}

func (s *entitySteps) entityIDShouldEqual(ctx context.Context, alias string) error {
	want, err := s.tc.EntityID(alias)
	if err != nil {
		return err
	}
	got, err := s.tc.GetResponseField("entity.entityId")
	if err != nil {
		return err
	}
	if fmt.Sprint(got) != want {
		return fmt.Errorf("expected entity %s, got %v", want, got)
	}
	return nil
}

func (s *entitySteps) queryShouldReturn(ctx context.Context, count int) error {
	if s.tc.GetStatus() != http.StatusOK {
		return fmt.Errorf("query failed with status %d", s.tc.GetStatus())
	}
	if got := s.tc.ResponseLines(); got != count {
		return fmt.Errorf("expected %d entities, got %d", count, got)
	}
	return nil
}
