package main

import (
	"fmt"
	"log"

	"github.com/samuelfneumann/gorl/environment/gridworld"
	"github.com/samuelfneumann/gorl/initwfn"
	"github.com/samuelfneumann/gorl/network"
	"github.com/samuelfneumann/gorl/optimize"
	"github.com/samuelfneumann/gorl/report"
	"github.com/samuelfneumann/gorl/trainer/c51"
	"github.com/samuelfneumann/gorl/validator"
)

// demoDriver is a minimal training-loop driver for the demo below
type demoDriver struct {
	epoch          int
	logEveryNSteps int
}

func (d *demoDriver) CurrentEpoch() int   { return d.epoch }
func (d *demoDriver) LogEveryNSteps() int { return d.logEveryNSteps }

func main() {
	var seed uint64 = 192382
	batchSize := 32

	// Create the environment
	world, err := gridworld.New(5, 5, []int{4}, []int{4}, 0.0, 1.0, 0.9,
		seed)
	if err != nil {
		log.Fatal(err)
	}

	// Create the weight initializer
	init, err := initwfn.NewGlorotN(1.0)
	if err != nil {
		log.Fatal(err)
	}

	// Create the learning algorithm
	config := c51.Config{
		Actions:      []string{"left", "right", "up", "down"},
		Features:     world.Features(),
		BatchSize:    batchSize,
		NumAtoms:     51,
		QMin:         0.0,
		QMax:         1.0,
		PolicyLayers: []int{64, 64},
		Biases:       []bool{true, true},
		Activations: []*network.Activation{
			network.ReLU(),
			network.ReLU(),
		},
		InitWFn: init,
		Solver: optimize.AdamConfig{
			StepSize: 0.001,
			Epsilon:  1e-8,
			Beta1:    0.9,
			Beta2:    0.999,
			Batch:    batchSize,
		},
		Gamma:        0.9,
		Tau:          0.05,
		MaxQLearning: true,
	}
	agent, err := c51.New(config)
	if err != nil {
		log.Fatal(err)
	}

	reporter := report.NewBuffered()
	if err := agent.SetReporter(reporter); err != nil {
		log.Fatal(err)
	}

	// Fit
	driver := &demoDriver{logEveryNSteps: 25}
	agent.OnFitStart(driver)

	optimizers, err := agent.ConfigureOptimizers()
	if err != nil {
		log.Fatal(err)
	}

	epochs, batchesPerEpoch := 20, 100
	losses := make([]float64, epochs)
	for epoch := 0; epoch < epochs; epoch++ {
		driver.epoch = epoch

		total := 0.0
		for batch := 0; batch < batchesPerEpoch; batch++ {
			b := world.SampleBatch(batchSize)
			for i, opt := range optimizers {
				loss, err := agent.TrainingStep(b, batch, i)
				if err != nil {
					log.Fatal(err)
				}
				if i == 0 {
					total += loss
				}

				err = agent.OptimizerStep(epoch, batch, opt, i, nil)
				if err != nil {
					log.Fatal(err)
				}
			}
		}
		agent.TrainingEpochEnd()

		losses[epoch] = total / float64(batchesPerEpoch)
		fmt.Printf("epoch %d\tloss %.4f\n", epoch, losses[epoch])
	}
	agent.OnFitEnd()

	// Validate the run
	v, err := validator.New(validator.NoValidationType)
	if err != nil {
		log.Fatal(err)
	}
	output := &validator.TrainingOutput{
		TDLosses: losses,
		Records:  reporter.Epoch(epochs - 1),
	}
	tagged, err := validator.Validate(v, output, nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("validation result (%v): %+v\n", tagged.Type, tagged.Result)

	fmt.Println("optimal state values:", world.OptimalValues(1e-8))
}
