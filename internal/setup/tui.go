package setup

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/yieldcron/config"
	"github.com/vadiminshakov/yieldcron/internal/domain"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// answers collects the wizard inputs as typed.
type answers struct {
	operator  string
	liquidity string
	target    string
	rateCol   string
	rateLiq   string
	accrual   string
	lotSize   string
	feeBps    string
	askPrice  string
	bidPrice  string
	owner     string
	principal string
	schedule  string
	side      string
	tolerance string
}

func defaults() answers {
	return answers{
		operator:  "operator",
		liquidity: "usdc",
		target:    "sol",
		rateCol:   "950000",
		rateLiq:   "1000000",
		accrual:   "5000",
		lotSize:   "1000",
		feeBps:    "10",
		askPrice:  "100",
		bidPrice:  "90",
		owner:     "owner",
		principal: "1000000",
		schedule:  domain.ScheduleWeekly.String(),
		side:      domain.SideBid.String(),
		tolerance: "1",
	}
}

func screen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("YIELDCRON CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) error {
	a := defaults()
	var confirm bool

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("YIELDCRON CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Turn reserve yield into a target asset on a schedule.\n"))

	fmt.Println(stepStyle.Render("STEP 1: OPERATOR"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Operator identity").
				Description("0x address or a label").
				Value(&a.operator).
				Validate(validateIdentity),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("STEP 2: RESERVE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Liquidity mint").Value(&a.liquidity).Validate(validateIdentity),
			huh.NewInput().Title("Initial collateral supply").Value(&a.rateCol).Validate(validatePositive),
			huh.NewInput().Title("Initial liquidity supply").Value(&a.rateLiq).Validate(validatePositive),
			huh.NewInput().Title("Daily accrual").Description("Liquidity added to the reserve every day").Value(&a.accrual).Validate(validateUint),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("STEP 3: MARKET")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Target mint").Value(&a.target).Validate(validateIdentity),
			huh.NewInput().Title("Base lot size").Value(&a.lotSize).Validate(validatePositive),
			huh.NewInput().Title("Taker fee (bps)").Value(&a.feeBps).Validate(validateUint),
			huh.NewInput().Title("Maker ask price per lot").Value(&a.askPrice).Validate(validatePositive),
			huh.NewInput().Title("Maker bid price per lot").Value(&a.bidPrice).Validate(validatePositive),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("STEP 4: DEPOSIT")
	scheduleOptions := make([]huh.Option[string], 0, len(domain.Schedules()))
	for _, s := range domain.Schedules() {
		scheduleOptions = append(scheduleOptions, huh.NewOption(s.String(), s.String()))
	}
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Owner identity").Value(&a.owner).Validate(validateIdentity),
			huh.NewInput().Title("Principal").Description("Liquidity native units").Value(&a.principal).Validate(validatePositive),
			huh.NewSelect[string]().Title("Schedule").Options(scheduleOptions...).Value(&a.schedule),
			huh.NewSelect[string]().
				Title("Order side").
				Options(
					huh.NewOption("Bid (spend yield on the target)", domain.SideBid.String()),
					huh.NewOption("Ask (sell the target for liquidity)", domain.SideAsk.String()),
				).
				Value(&a.side),
			huh.NewInput().Title("Slippage tolerance %").Value(&a.tolerance).Validate(validatePercent),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Operator: %s\nReserve: %s (%s:%s)\nMarket: %s/%s lot %s\nDeposit: %s %s %s, %s\n",
		a.operator, a.liquidity, a.rateCol, a.rateLiq, a.target, a.liquidity, a.lotSize,
		a.owner, a.principal, a.schedule, a.side,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	cfgTmp, err := buildConfig(a)
	if err != nil {
		return err
	}
	if err := write(path, cfgTmp); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting...", path)))
	time.Sleep(1500 * time.Millisecond)
	return nil
}

// buildConfig turns wizard answers into a config file body.
func buildConfig(a answers) (config.ConfigTmp, error) {
	nums := make(map[string]uint64)
	for name, v := range map[string]string{
		"collateral": a.rateCol, "liquidity": a.rateLiq, "accrual": a.accrual, "lot": a.lotSize,
		"fee": a.feeBps, "ask": a.askPrice, "bid": a.bidPrice, "principal": a.principal,
	} {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return config.ConfigTmp{}, fmt.Errorf("%s: %w", name, err)
		}
		nums[name] = n
	}
	if nums["fee"] >= 10_000 {
		return config.ConfigTmp{}, fmt.Errorf("taker fee must be below 10000 bps")
	}

	const (
		reserveName = "reserve"
		marketName  = "market"
	)
	return config.ConfigTmp{
		Operator:                    a.operator,
		SlippageTolerancePercentStr: a.tolerance,
		RunOnStart:                  true,
		Reserves: []config.ReserveTmp{{
			Name:              reserveName,
			LiquidityMint:     a.liquidity,
			InitialCollateral: nums["collateral"],
			InitialLiquidity:  nums["liquidity"],
			AccrualAmount:     nums["accrual"],
		}},
		Markets: []config.MarketTmp{{
			Name:        marketName,
			BaseMint:    a.target,
			QuoteMint:   a.liquidity,
			BaseLotSize: nums["lot"],
			TakerFeeBps: uint32(nums["fee"]),
			Asks:        []config.LevelConfig{{Price: nums["ask"], Lots: 10_000}},
			Bids:        []config.LevelConfig{{Price: nums["bid"], Lots: 10_000}},
		}},
		Deposits: []config.DepositTmp{{
			Name:      "deposit-1",
			Owner:     a.owner,
			Reserve:   reserveName,
			Market:    marketName,
			Side:      a.side,
			Principal: nums["principal"],
			Schedule:  a.schedule,
		}},
	}, nil
}

func write(path string, c config.ConfigTmp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if _, err := config.Parse(data); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func validateIdentity(s string) error {
	if s == "" {
		return fmt.Errorf("cannot be empty")
	}
	_, err := config.ResolveIdentity(s)
	return err
}

func validateUint(s string) error {
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

func validatePositive(s string) error {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validatePercent(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("must be between 0 and 100")
	}
	return nil
}
