package services

import (
	"errors"
	"fmt"
)

// Ошибки бизнес-правил смены
var (
	ErrTurnNotDeletable  = errors.New("смену можно удалить только в статусе черновик или отменена")
	ErrLineNotDeletable  = errors.New("строку можно удалить только в статусе черновик или отменена")
	ErrNothingReserved   = errors.New("нечего проводить: нет ни резерва, ни выполненного количества")
	ErrNothingToMove     = errors.New("в смене нет перемещений, сначала подтвердите ее")
	ErrReduceDoneQty     = errors.New("нельзя уменьшить количество, которое уже выполнено")
	ErrNothingToCheck    = errors.New("нечего резервировать: нет перемещений в ожидании")
	ErrTurnNotOpen       = errors.New("закрыть можно только открытую смену")
	ErrTurnClosed        = errors.New("смена закрыта или отменена")
	ErrTurnNotCancelable = errors.New("отменить можно только смену до открытия")
	ErrLineRecursion     = errors.New("строки смены не могут ссылаться друг на друга по кругу")
	ErrBOMRecursion      = errors.New("обнаружена циклическая зависимость в спецификациях")
	ErrUoMCategory       = errors.New("единицы измерения из разных категорий")
	ErrProductNotAllowed = errors.New("товар не разрешен на рабочем месте")
	ErrInvalidQuantity   = errors.New("количество не может быть отрицательным")
	ErrOpenQtyTooSmall   = errors.New("невыполненного количества недостаточно для уменьшения")
	ErrLocationRequired  = errors.New("не заданы локации смены")
	ErrProductLocked     = errors.New("нельзя сменить товар строки, по которой уже есть перемещения")
	ErrInvalidWorkplace  = errors.New("некорректная настройка рабочего места")
	ErrInvalidProduct    = errors.New("некорректная карточка товара")
)

// UserError ошибка, которую нужно показать пользователю как есть
// (HTTP 409/400, gRPC FailedPrecondition). Транзакция при ней откатывается.
type UserError struct {
	Err    error
	Detail string
}

func (e *UserError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Detail)
}

func (e *UserError) Unwrap() error {
	return e.Err
}

func userErr(err error, format string, args ...interface{}) error {
	return &UserError{Err: err, Detail: fmt.Sprintf(format, args...)}
}

// IsUserError true, если в цепочке есть UserError
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}
