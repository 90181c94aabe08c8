package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/flowrun-io/flowrun/internal/appcontext"
	"github.com/flowrun-io/flowrun/internal/config"
	"github.com/flowrun-io/flowrun/pkg/script/js"
	"github.com/flowrun-io/flowrun/pkg/workflow"
	"github.com/flowrun-io/flowrun/pkg/workflow/model"
)

// Demo entrypoint: runs an order handling process end to end with the
// embedded engine. Real deployments embed pkg/workflow directly.
func main() {
	conf := config.InitConfig()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       conf.Name,
		Level:      hclog.LevelFromString(conf.Log.Level),
		JSONFormat: conf.Log.JSON,
	})

	appContext, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()

	options := []workflow.EngineOption{
		workflow.EngineWithName(conf.Name),
		workflow.EngineWithLogger(logger),
		workflow.EngineWithScriptRuntime(js.NewJsRuntime(appContext, conf.Script.MaxPoolSize, conf.Script.MinPoolSize)),
	}
	if conf.ExclusiveChoice {
		options = append(options, workflow.EngineWithExclusiveChoice())
	}
	engine := workflow.NewEngine(options...)

	def := model.NewProcessBuilder("orders").
		Name("Order handling").
		Variable("order", "map", nil).
		Variable("approved", "bool", false).
		TagExpression(`order.customer`).
		Start("start").
		WorkItem("review", "ReviewOrder").
		Task("confirm", `({message: "order " + order.id + " approved"})`).
		Task("reject", `({message: "order " + order.id + " rejected"})`).
		End("done").
		End("cancelled").
		Connect("start", "review").
		Connect("review", "confirm").
		Connect("review", "reject").
		Connect("confirm", "done").
		Connect("reject", "cancelled").
		Constraint("review", "confirm", "approved === true", 1).
		DefaultFlow("review", "reject").
		MustBuild()

	instance, err := engine.CreateInstanceWithKey(def, "order-1001", map[string]any{
		"order": map[string]any{"id": "1001", "customer": "acme"},
	})
	if err != nil {
		logger.Error("failed to create instance", "error", err)
		os.Exit(1)
	}
	if err := instance.Start(appContext, "", nil); err != nil {
		logger.Error("failed to start instance", "error", err)
		os.Exit(1)
	}
	logger.Info("instance started", "id", instance.ID(), "status", instance.Status(), "tags", instance.Tags())

	for _, wi := range instance.WorkItems() {
		ctx := appcontext.WithCaller(appContext, "demo-user")
		if err := instance.CompleteWorkItem(ctx, wi.ID, map[string]any{"approved": true}); err != nil {
			logger.Error("failed to complete work item", "workItem", wi.ID, "error", err)
			os.Exit(1)
		}
	}

	logger.Info("instance finished", "id", instance.ID(), "status", instance.Status())
	fmt.Printf("variables: %v\n", instance.Variables())
}
