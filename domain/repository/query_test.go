package repository

import "testing"

func TestBuild_CollectsConditionsInOrder(t *testing.T) {
	q := Build(
		WithCondition("name", "bill"),
		WithKeyAfter("id", 10),
		WithConditionIn("id", []int64{11, 12}),
	)

	conds := q.Conditions()
	if len(conds) != 3 {
		t.Fatalf("Conditions() len = %d, want 3", len(conds))
	}
	if got := conds[1].String(); got != "id > 10" {
		t.Errorf("conds[1].String() = %q, want %q", got, "id > 10")
	}
	if conds[0].In() || !conds[2].In() {
		t.Errorf("In() flags wrong: %v %v", conds[0].In(), conds[2].In())
	}
}

func TestBuild_KeyOrderReplacesCallerOrdering(t *testing.T) {
	q := Build(WithOrderDesc("age"), WithOffset(40), WithKeyOrder("id"), WithKeyAtMost("id", 9))

	orders := q.Orders()
	if len(orders) != 1 {
		t.Fatalf("Orders() len = %d, want 1", len(orders))
	}
	if orders[0].Field() != "id" || !orders[0].Ascending() {
		t.Errorf("unexpected order %+v", orders[0])
	}
	if q.OffsetValue() != 0 {
		t.Errorf("OffsetValue() = %d, want 0", q.OffsetValue())
	}
	if got := q.Conditions()[0].String(); got != "id <= 9" {
		t.Errorf("condition = %q", got)
	}
}

func TestBuild_OrdersAccumulate(t *testing.T) {
	q := Build(WithOrderAsc("name"), WithOrderDesc("id"))

	orders := q.Orders()
	if len(orders) != 2 || orders[1].Field() != "id" || orders[1].Ascending() {
		t.Errorf("unexpected orders %+v", orders)
	}
}

func TestQuery_AccessorsReturnCopies(t *testing.T) {
	q := Build(WithCondition("a", 1), WithOrderAsc("a"))
	q.Conditions()[0] = Condition{field: "b"}
	q.Orders()[0] = Order{field: "b"}

	if q.Conditions()[0].Field() != "a" || q.Orders()[0].Field() != "a" {
		t.Error("mutating a returned slice changed the query")
	}
}

func TestOperator_Multi(t *testing.T) {
	tests := []struct {
		op   Operator
		want bool
	}{
		{OpEqual, false},
		{OpLessThanOrEqual, false},
		{OpIn, true},
		{OpNotIn, true},
	}
	for _, tt := range tests {
		if got := tt.op.Multi(); got != tt.want {
			t.Errorf("%s.Multi() = %v, want %v", tt.op, got, tt.want)
		}
	}
}

func TestWithPagination(t *testing.T) {
	q := Build(WithPagination(10, 20)...)
	if q.LimitValue() != 10 || q.OffsetValue() != 20 {
		t.Errorf("pagination = %d/%d", q.LimitValue(), q.OffsetValue())
	}
	if Build().LimitValue() != 0 {
		t.Error("empty query should be unbounded")
	}
}
