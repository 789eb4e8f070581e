package queues

import (
	"errors"
	"strings"
)

// Registered queues. Names are part of the wire contract.
var (
	CreateExpert = define[CreateExpertPayload]("create-expert")
	Booking      = define[BookingPayload]("booking")

	AddIngredient            = define[AddIngredientPayload]("add-ingredient")
	UpdateIngredient         = define[UpdateIngredientPayload]("update-ingredient")
	DeleteIngredient         = define[DeleteIngredientPayload]("delete-ingredient")
	GetIngredientByID        = define[GetIngredientByIDPayload]("get-ingredient-by-id")
	SearchIngredient         = define[SearchIngredientPayload]("search-ingredient")
	SearchIngredientExternal = define[SearchIngredientPayload]("search-ingredient-external")

	AddMeal        = define[AddMealPayload]("add-meal")
	UpdateMeal     = define[UpdateMealPayload]("update-meal")
	DeleteMeal     = define[MealIDPayload]("delete-meal")
	GetMealByID    = define[MealIDPayload]("get-meal-by-id")
	GetMealsByDate = define[GetMealsByDatePayload]("get-meals-by-date")
	SearchMeal     = define[SearchMealPayload]("search-meal")
	CloneMeal      = define[MealIDPayload]("clone-meal")

	AddDish     = define[AddDishPayload]("add-dish")
	UpdateDish  = define[UpdateDishPayload]("update-dish")
	DeleteDish  = define[DishIDPayload]("delete-dish")
	GetDishByID = define[DishIDPayload]("get-dish-by-id")
	SearchDish  = define[SearchDishPayload]("search-dish")
	RateDish    = define[RateDishPayload]("rate-dish")

	AddDishIngredient       = define[DishIngredientPayload]("add-dish-ingredient")
	UpdateDishIngredient    = define[DishIngredientPayload]("update-dish-ingredient")
	DeleteDishIngredient    = define[DishIngredientRefPayload]("delete-dish-ingredient")
	GetDishIngredientDetail = define[DishIngredientRefPayload]("get-dish-ingredient-detail")
)

var (
	errMissingName  = errors.New("name is required")
	errMissingEmail = errors.New("valid email is required")
	errMissingID    = errors.New("id is required")
)

type CreateExpertPayload struct {
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Skills []string `json:"skills"`
}

func (p CreateExpertPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errMissingName
	}
	if !strings.Contains(p.Email, "@") {
		return errMissingEmail
	}
	return nil
}

// BookingPayload is an appointment booking request handed from the API to the
// appointment worker.
type BookingPayload struct {
	UserID      string `json:"userId"`
	ExpertID    string `json:"expertId"`
	AvailableID string `json:"availableId"`
	Issues      string `json:"issues,omitempty"`
	Notes       string `json:"notes,omitempty"`
	Type        string `json:"type,omitempty"`
}

func (p BookingPayload) Validate() error {
	if p.UserID == "" || p.ExpertID == "" || p.AvailableID == "" {
		return errors.New("userId, expertId and availableId are required")
	}
	return nil
}

type AddIngredientPayload struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Calories    float64  `json:"calories"`
	Image       string   `json:"image"`
	Cab         *float64 `json:"cab,omitempty"`
	Sodium      *float64 `json:"sodium,omitempty"`
	Sugar       *float64 `json:"sugar,omitempty"`
	Cholesterol *float64 `json:"cholesterol,omitempty"`
	Fat         *float64 `json:"fat,omitempty"`
	Protein     *float64 `json:"protein,omitempty"`
}

func (p AddIngredientPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errMissingName
	}
	return nil
}

type UpdateIngredientPayload struct {
	AddIngredientPayload
	ID string `json:"id"`
}

func (p UpdateIngredientPayload) Validate() error {
	if p.ID == "" {
		return errMissingID
	}
	return p.AddIngredientPayload.Validate()
}

type DeleteIngredientPayload struct {
	ID string `json:"id"`
}

func (p DeleteIngredientPayload) Validate() error {
	if p.ID == "" {
		return errMissingID
	}
	return nil
}

type GetIngredientByIDPayload = DeleteIngredientPayload

type SearchIngredientPayload struct {
	Search  string `json:"search,omitempty"`
	Page    int    `json:"page,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	OrderBy string `json:"order_by,omitempty"`
	SortBy  string `json:"sort_by,omitempty"`
}

type AddMealPayload struct {
	Name        string   `json:"name"`
	Date        string   `json:"date"`
	Description string   `json:"description"`
	Calories    float64  `json:"calories"`
	PrepTime    float64  `json:"pre_time"`
	Type        string   `json:"type"`
	Dishes      []string `json:"dishes"`
}

func (p AddMealPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errMissingName
	}
	return nil
}

type UpdateMealPayload struct {
	AddMealPayload
	MealID string `json:"meal_id"`
}

func (p UpdateMealPayload) Validate() error {
	if p.MealID == "" {
		return errMissingID
	}
	return p.AddMealPayload.Validate()
}

type MealIDPayload struct {
	MealID string `json:"meal_id"`
}

func (p MealIDPayload) Validate() error {
	if p.MealID == "" {
		return errMissingID
	}
	return nil
}

type GetMealsByDatePayload struct {
	Date string `json:"date"`
}

type SearchMealPayload struct {
	Search      string   `json:"search,omitempty"`
	Page        int      `json:"page,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Type        string   `json:"type,omitempty"`
	MealType    string   `json:"meal_type,omitempty"`
	OrderBy     string   `json:"order_by,omitempty"`
	SortBy      string   `json:"sort_by,omitempty"`
	MinCalories *float64 `json:"min_calories,omitempty"`
	MaxCalories *float64 `json:"max_calories,omitempty"`
}

type AddDishPayload struct {
	Name         string                   `json:"name"`
	Description  string                   `json:"description"`
	Calories     float64                  `json:"calories"`
	PrepTime     float64                  `json:"prep_time"`
	Rating       float64                  `json:"rating"`
	Image        string                   `json:"image"`
	Instruction  string                   `json:"instruction"`
	Ingredients  []map[string]interface{} `json:"ingredients"`
	Fat          *float64                 `json:"fat,omitempty"`
	SaturatedFat *float64                 `json:"saturatedFat,omitempty"`
	Cholesterol  *float64                 `json:"cholesterol,omitempty"`
	Sodium       *float64                 `json:"sodium,omitempty"`
	Carbohydrate *float64                 `json:"carbohydrate,omitempty"`
	Fiber        *float64                 `json:"fiber,omitempty"`
	Sugar        *float64                 `json:"sugar,omitempty"`
	Protein      *float64                 `json:"protein,omitempty"`
}

func (p AddDishPayload) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errMissingName
	}
	return nil
}

type UpdateDishPayload struct {
	AddDishPayload
	ID string `json:"id"`
}

func (p UpdateDishPayload) Validate() error {
	if p.ID == "" {
		return errMissingID
	}
	return p.AddDishPayload.Validate()
}

type DishIDPayload struct {
	ID string `json:"id"`
}

func (p DishIDPayload) Validate() error {
	if p.ID == "" {
		return errMissingID
	}
	return nil
}

type SearchDishPayload struct {
	Search      string   `json:"search,omitempty"`
	Page        int      `json:"page,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	OrderBy     string   `json:"order_by,omitempty"`
	SortBy      string   `json:"sort_by,omitempty"`
	MinCalories *float64 `json:"min_calories,omitempty"`
	MaxCalories *float64 `json:"max_calories,omitempty"`
}

type RateDishPayload struct {
	ID     string  `json:"id"`
	Rating float64 `json:"rating"`
}

func (p RateDishPayload) Validate() error {
	if p.ID == "" {
		return errMissingID
	}
	if p.Rating < 0 || p.Rating > 5 {
		return errors.New("rating must be between 0 and 5")
	}
	return nil
}

type DishIngredientPayload struct {
	DishID       string  `json:"dishId"`
	IngredientID string  `json:"ingredientId"`
	Quantity     float64 `json:"quantity"`
	Unit         float64 `json:"unit"`
}

func (p DishIngredientPayload) Validate() error {
	return DishIngredientRefPayload{DishID: p.DishID, IngredientID: p.IngredientID}.Validate()
}

type DishIngredientRefPayload struct {
	DishID       string `json:"dishId"`
	IngredientID string `json:"ingredientId"`
}

func (p DishIngredientRefPayload) Validate() error {
	if p.DishID == "" || p.IngredientID == "" {
		return errors.New("dishId and ingredientId are required")
	}
	return nil
}
