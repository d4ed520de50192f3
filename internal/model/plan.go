package model

// NutritionPlan is a full-day meal plan: exactly seven fixed meal blocks plus
// a daily nutrition summary. The JSON keys mirror the stored plan format, so a
// plan round-trips unchanged through the continuity record.
type NutritionPlan struct {
	EarlyMorning   MealBlock        `json:"Early_Morning"`
	Breakfast      MealBlock        `json:"Breakfast"`
	MorningSnack   MealBlock        `json:"Morning_Snack"`
	Lunch          MealBlock        `json:"Lunch"`
	AfternoonSnack MealBlock        `json:"Afternoon_Snack"`
	Dinner         MealBlock        `json:"Dinner"`
	EveningSnack   MealBlock        `json:"Evening_Snack"`
	Summary        NutritionSummary `json:"nutritional_info"`
}

// Blocks returns the seven meal blocks in day order, paired with their labels.
func (p *NutritionPlan) Blocks() []NamedMealBlock {
	return []NamedMealBlock{
		{"Early_Morning", &p.EarlyMorning},
		{"Breakfast", &p.Breakfast},
		{"Morning_Snack", &p.MorningSnack},
		{"Lunch", &p.Lunch},
		{"Afternoon_Snack", &p.AfternoonSnack},
		{"Dinner", &p.Dinner},
		{"Evening_Snack", &p.EveningSnack},
	}
}

// NamedMealBlock pairs a fixed block label with a pointer into the plan.
type NamedMealBlock struct {
	Label string
	Block *MealBlock
}

// MealBlock is one meal slot: a time range, a rationale, and 1-2 meals.
type MealBlock struct {
	TimeRange    string `json:"time_range"`
	NutritionTip string `json:"nutrition_tip"`
	Meals        []Meal `json:"meals"`
}

// Meal is a single suggested meal with its macro estimate.
type Meal struct {
	Name     string  `json:"name"`
	Details  string  `json:"details"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Macros   Macros  `json:"macros"`
}

// Macros holds the non-protein macronutrient grams for a meal.
type Macros struct {
	Carbs float64 `json:"carbs"`
	Fat   float64 `json:"fat"`
}

// NutritionSummary is the daily roll-up across all meal blocks.
type NutritionSummary struct {
	Calories       float64  `json:"calories"`
	Protein        float64  `json:"protein"`
	ProteinPercent float64  `json:"protein_percent"`
	Carbs          float64  `json:"carbs"`
	CarbsPercent   float64  `json:"carbs_percent"`
	Fat            float64  `json:"fat"`
	FatPercent     float64  `json:"fat_percent"`
	Fiber          float64  `json:"fiber"`
	Sugar          float64  `json:"sugar"`
	Sodium         float64  `json:"sodium"`
	Potassium      float64  `json:"potassium"`
	Vitamins       Vitamins `json:"vitamins"`
}

// Vitamins is the fixed set of tracked micronutrients.
type Vitamins struct {
	VitaminD  string `json:"Vitamin_D"`
	Calcium   string `json:"Calcium"`
	Iron      string `json:"Iron"`
	Magnesium string `json:"Magnesium"`
}

// RoutinePlan is a full-day routine: exactly four fixed time blocks.
// The block shape is identical across archetypes — only the prompt variant
// that produced it differs.
type RoutinePlan struct {
	MorningWakeup     TimeBlock `json:"morning_wakeup"`
	FocusBlock        TimeBlock `json:"focus_block"`
	AfternoonRecharge TimeBlock `json:"afternoon_recharge"`
	EveningWinddown   TimeBlock `json:"evening_winddown"`
}

// Blocks returns the four time blocks in day order, paired with their labels.
func (p *RoutinePlan) Blocks() []NamedTimeBlock {
	return []NamedTimeBlock{
		{"morning_wakeup", &p.MorningWakeup},
		{"focus_block", &p.FocusBlock},
		{"afternoon_recharge", &p.AfternoonRecharge},
		{"evening_winddown", &p.EveningWinddown},
	}
}

// NamedTimeBlock pairs a fixed block label with a pointer into the plan.
type NamedTimeBlock struct {
	Label string
	Block *TimeBlock
}

// TimeBlock is one routine slot: a time range, a rationale, and 2-4 tasks.
type TimeBlock struct {
	TimeRange    string        `json:"time_range"`
	WhyItMatters string        `json:"why_it_matters"`
	Tasks        []RoutineTask `json:"tasks"`
}

// RoutineTask is one actionable item with the reason it is suggested.
type RoutineTask struct {
	Task   string `json:"task"`
	Reason string `json:"reason"`
}
